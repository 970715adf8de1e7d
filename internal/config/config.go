package config

import (
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

type Config struct {
	// Server
	Port           string
	AllowedOrigins string
	MaxUploadSize  int64
	WorkspaceDir   string

	// Environment
	Environment string

	// Vision-language chat endpoint
	VLServerURL      string
	VLAPIKey         string
	VLModel          string
	VLTask           string
	VLRequestTimeout time.Duration

	// Pipeline
	PipelineBackend     string
	PipelineServerURL   string
	PipelineConcurrency int
	PageWorkers         int
	PDFDPI              int
	TesseractLanguage   string

	// Run history
	DatabaseURL string

	// S3/Garage archive
	ArchiveEnabled   bool
	ArchiveURLExpiry time.Duration
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool
	S3Region         string
}

func Load() *Config {
	vlServerURL := getEnv("VL_SERVER_URL", "http://localhost:8000/v1")

	return &Config{
		Port:                getEnv("PORT", "8080"),
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "*"),
		MaxUploadSize:       getBytesEnv("MAX_UPLOAD_SIZE", 64*1000*1000),
		WorkspaceDir:        getEnv("WORKSPACE_DIR", os.TempDir()),
		Environment:         getEnv("ENVIRONMENT", "development"),
		VLServerURL:         vlServerURL,
		VLAPIKey:            getEnv("VL_API_KEY", "EMPTY"),
		VLModel:             getEnv("VL_MODEL", "PaddlePaddle/PaddleOCR-VL"),
		VLTask:              getEnv("VL_TASK", "ocr"),
		VLRequestTimeout:    getDurationEnv("VL_REQUEST_TIMEOUT_SECONDS", 3600) * time.Second,
		PipelineBackend:     getEnv("PIPELINE_BACKEND", "vllm-server"),
		PipelineServerURL:   getEnv("PIPELINE_SERVER_URL", vlServerURL),
		PipelineConcurrency: getIntEnv("PIPELINE_CONCURRENCY", 1),
		PageWorkers:         getIntEnv("PAGE_WORKERS", 1),
		PDFDPI:              getIntEnv("PDF_DPI", 144),
		TesseractLanguage:   getEnv("TESSERACT_LANGUAGE", "eng"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		ArchiveEnabled:      getBoolEnv("ARCHIVE_ENABLED", false),
		ArchiveURLExpiry:    getDurationEnv("ARCHIVE_URL_EXPIRY_MINUTES", 60) * time.Minute,
		S3Endpoint:          getEnv("S3_ENDPOINT", "localhost:3900"),
		S3AccessKey:         getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:         getEnv("S3_SECRET_KEY", ""),
		S3Bucket:            getEnv("S3_BUCKET", "ocr-results"),
		S3UseSSL:            getBoolEnv("S3_USE_SSL", false),
		S3Region:            getEnv("S3_REGION", "garage"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
	}
	return time.Duration(defaultValue)
}

// getBytesEnv accepts human sizes such as "64MB" or "1GiB"
func getBytesEnv(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if size, err := humanize.ParseBytes(value); err == nil && size > 0 {
			return int64(size)
		}
	}
	return defaultValue
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HistoryEnabled reports whether runs are recorded in Postgres
func (c *Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}
