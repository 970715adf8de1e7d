package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/models"
)

// DocumentProcessor drives a pipeline over one document and assembles the result
type DocumentProcessor struct {
	pipeline Pipeline
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(pipeline Pipeline) *DocumentProcessor {
	return &DocumentProcessor{pipeline: pipeline}
}

// Process runs the pipeline on inputPath, concatenates the page markdown and
// writes every extracted image below outputDir. A failure on any page aborts
// the whole document.
func (d *DocumentProcessor) Process(ctx context.Context, inputPath, outputDir string) (*models.DocumentResult, error) {
	log.Printf("Starting to process: %s", filepath.Base(inputPath))

	output, err := d.pipeline.Predict(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Processed %d pages", len(output))

	markdownList := make([]models.MarkdownPage, 0, len(output))
	markdownImages := make([]map[string][]byte, 0, len(output))
	for i, res := range output {
		log.Printf("Processing page %d/%d", i+1, len(output))
		markdownList = append(markdownList, res.Markdown)
		markdownImages = append(markdownImages, res.Markdown.Images)
	}

	markdown := d.pipeline.ConcatenateMarkdownPages(markdownList)

	paths, err := SaveImages(outputDir, markdownImages)
	if err != nil {
		return nil, err
	}

	return &models.DocumentResult{
		Markdown:   markdown,
		PageCount:  len(output),
		ImageCount: len(paths),
		ImagePaths: paths,
	}, nil
}

// SaveImages writes each image to outputDir joined with its relative path,
// creating parent directories. Paths escaping outputDir are rejected.
func SaveImages(outputDir string, imageMaps []map[string][]byte) ([]string, error) {
	var written []string
	for _, images := range imageMaps {
		names := make([]string, 0, len(images))
		for name := range images {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			rel := filepath.FromSlash(name)
			if !filepath.IsLocal(rel) {
				return nil, apperr.New(apperr.InvalidInput, "save image", fmt.Sprintf("image path %q escapes the output directory", name))
			}
			dest := filepath.Join(outputDir, rel)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "save image", err)
			}
			if err := os.WriteFile(dest, images[name], 0o644); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "save image", err)
			}
			written = append(written, name)
		}
	}
	return written, nil
}

// Stem returns the base name of path without its extension
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteMarkdown writes <outputDir>/<stem>.md and returns its path
func WriteMarkdown(outputDir, inputPath, markdown string) (string, error) {
	return writeOutput(outputDir, Stem(inputPath)+".md", []byte(markdown))
}

// WriteHTML renders markdown and writes <outputDir>/<stem>.html
func WriteHTML(outputDir, inputPath, markdown string) (string, error) {
	page, err := RenderHTML(markdown, Stem(inputPath))
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "write html", err)
	}
	return writeOutput(outputDir, Stem(inputPath)+".html", page)
}

func writeOutput(outputDir, name string, data []byte) (string, error) {
	path := filepath.Join(outputDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apperr.Wrap(apperr.Internal, "write output", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperr.Wrap(apperr.Internal, "write output", err)
	}
	return path, nil
}
