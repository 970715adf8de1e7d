package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/config"
	"github.com/foxxcyber/docscan/internal/models"
	"github.com/foxxcyber/docscan/internal/services"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()
	cfg := config.Load()

	filePath := flag.String("file", "", "path to an image, PDF or text file")
	taskName := flag.String("task", cfg.VLTask, "task for image inputs: ocr, table, formula or chart")
	outPath := flag.String("out", "output.txt", "where to write the generated text")
	flag.Parse()

	if *filePath == "" {
		*filePath = flag.Arg(0)
	}
	if *filePath == "" {
		fmt.Fprintf(os.Stderr, "usage: ocr-file [-task ocr] [-out output.txt] <file>\nsupported: %s\n",
			strings.Join(services.SupportedExtensions(), ", "))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *filePath, *taskName, *outPath); err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(apperr.ExitCode(err))
	}
}

func run(ctx context.Context, cfg *config.Config, path, taskName, outPath string) error {
	task, err := models.ParseTask(taskName)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "parse task", err)
	}

	builder := services.NewRequestBuilder(services.NewPopplerRenderer(cfg.PDFDPI), cfg.WorkspaceDir)
	client := services.NewChatClient(cfg.VLServerURL, cfg.VLAPIKey, cfg.VLModel, cfg.VLRequestTimeout)

	text, err := services.NewFileOCR(builder, client).Extract(ctx, path, task)
	if err != nil {
		return err
	}

	fmt.Printf("Generated text: %s\n", text)
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	log.Printf("Saved output to %s", outPath)
	return nil
}
