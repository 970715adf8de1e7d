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
	"github.com/foxxcyber/docscan/internal/services"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()
	cfg := config.Load()

	input := flag.String("input", "", "PDF or image to convert")
	outDir := flag.String("out", ".", "directory for the markdown file and extracted images")
	withHTML := flag.Bool("html", false, "also write an HTML rendering next to the markdown")
	flag.Parse()

	if *input == "" {
		*input = flag.Arg(0)
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: ocr-batch [-out dir] [-html] <document>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *input, *outDir, *withHTML); err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(apperr.ExitCode(err))
	}
}

func run(ctx context.Context, cfg *config.Config, input, outDir string, withHTML bool) error {
	pipeline, err := services.NewPipelineFromConfig(cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	result, err := services.NewDocumentProcessor(pipeline).Process(ctx, input, outDir)
	if err != nil {
		return err
	}

	mdPath, err := services.WriteMarkdown(outDir, input, result.Markdown)
	if err != nil {
		return err
	}
	log.Printf("Markdown file saved to: %s (%d pages, %d images)", mdPath, result.PageCount, result.ImageCount)

	if withHTML {
		htmlPath, err := services.WriteHTML(outDir, input, result.Markdown)
		if err != nil {
			return err
		}
		log.Printf("HTML file saved to: %s", htmlPath)
	}
	return nil
}
