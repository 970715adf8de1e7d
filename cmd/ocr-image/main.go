package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

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

	imagePath := flag.String("image", "", "path to the image to recognize")
	taskName := flag.String("task", cfg.VLTask, "task: ocr, table, formula or chart")
	flag.Parse()

	if *imagePath == "" {
		*imagePath = flag.Arg(0)
	}
	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: ocr-image [-task ocr] <image>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	text, err := recognize(ctx, cfg, *imagePath, *taskName)
	if err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(apperr.ExitCode(err))
	}
	fmt.Println(text)
}

func recognize(ctx context.Context, cfg *config.Config, path, taskName string) (string, error) {
	task, err := models.ParseTask(taskName)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "parse task", err)
	}

	builder := services.NewRequestBuilder(nil, cfg.WorkspaceDir)
	kind, err := builder.Kind(path)
	if err != nil {
		return "", err
	}
	if kind != models.ContentImage {
		return "", apperr.New(apperr.InvalidInput, "read image", fmt.Sprintf("%s is not an image", path))
	}

	payloads, err := builder.Build(ctx, path, task)
	if err != nil {
		return "", err
	}

	client := services.NewChatClient(cfg.VLServerURL, cfg.VLAPIKey, cfg.VLModel, cfg.VLRequestTimeout)
	return client.Complete(ctx, payloads[0])
}
