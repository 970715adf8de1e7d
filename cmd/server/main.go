package main

import (
	"context"
	"log"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"

	"github.com/foxxcyber/docscan/internal/config"
	"github.com/foxxcyber/docscan/internal/database"
	"github.com/foxxcyber/docscan/internal/handlers"
	"github.com/foxxcyber/docscan/internal/services"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()

	cfg := config.Load()

	// One pipeline for the whole process, shared by all requests
	pipeline, err := services.NewPipelineFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer pipeline.Close()
	log.Printf("Pipeline ready: backend=%s server=%s model=%s concurrency=%d",
		cfg.PipelineBackend, cfg.PipelineServerURL, cfg.VLModel, cfg.PipelineConcurrency)

	h := handlers.New(cfg, services.NewSharedPipeline(pipeline, cfg.PipelineConcurrency))

	if cfg.HistoryEnabled() {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := database.RunMigrations(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		h.WithRunStore(db)
	} else {
		log.Println("DATABASE_URL not set, run history disabled")
	}

	if cfg.ArchiveEnabled {
		archive, err := services.NewArchiveService(
			cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL, cfg.ArchiveURLExpiry,
		)
		if err != nil {
			log.Printf("Warning: Failed to initialize archive storage: %v", err)
		} else {
			if err := archive.EnsureBucket(context.Background()); err != nil {
				log.Printf("Warning: Failed to ensure S3 bucket exists: %v", err)
			}
			h.WithArchiver(archive)
			log.Printf("Archiving runs to bucket %s", archive.GetBucketName())
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "docscan",
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    int(cfg.MaxUploadSize),
		JSONEncoder:  jsoniter.ConfigCompatibleWithStandardLibrary.Marshal,
		JSONDecoder:  jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	h.RegisterRoutes(app)

	log.Printf("Server starting on port %s (max upload %s, workspace %s)",
		cfg.Port, humanize.Bytes(uint64(cfg.MaxUploadSize)), cfg.WorkspaceDir)
	log.Fatal(app.Listen(":" + cfg.Port))
}
