package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/foxxcyber/docscan/internal/apperr"
)

// PageRenderer rasterizes the pages of a PDF into image files inside workDir.
// The returned paths are in page order.
type PageRenderer interface {
	Render(ctx context.Context, pdfPath, workDir string) ([]string, error)
}

// PopplerRenderer renders pages with pdftoppm
type PopplerRenderer struct {
	DPI    int
	Binary string
}

// NewPopplerRenderer creates a renderer producing JPEG pages at the given DPI
func NewPopplerRenderer(dpi int) *PopplerRenderer {
	if dpi <= 0 {
		dpi = 144
	}
	return &PopplerRenderer{DPI: dpi, Binary: "pdftoppm"}
}

// CountPDFPages reads the page count from the document catalog
func CountPDFPages(pdfPath string) (n int, err error) {
	// the reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

func (r *PopplerRenderer) Render(ctx context.Context, pdfPath, workDir string) ([]string, error) {
	const op = "render pdf"

	total, err := CountPDFPages(pdfPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, op, fmt.Errorf("not a readable PDF: %w", err))
	}
	if total == 0 {
		return nil, apperr.New(apperr.InvalidInput, op, "PDF has no pages")
	}

	prefix := filepath.Join(workDir, "page")
	args := []string{"-jpeg", "-r", strconv.Itoa(r.DPI), pdfPath, prefix}
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, apperr.Wrap(apperr.Internal, op, fmt.Errorf("%s is not installed: %w", r.Binary, err))
		}
		return nil, apperr.Wrap(apperr.Internal, op,
			fmt.Errorf("%s failed: %w: %s", r.Binary, err, strings.TrimSpace(stderr.String())))
	}

	matches, err := filepath.Glob(prefix + "-*.jpg")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	if len(matches) != total {
		return nil, apperr.New(apperr.Internal, op,
			fmt.Sprintf("expected %d rendered pages, found %d", total, len(matches)))
	}
	sortPagePaths(matches)
	return matches, nil
}

// sortPagePaths orders pdftoppm output (page-1.jpg, page-02.jpg, ...) numerically
func sortPagePaths(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return pageIndexFromName(paths[i]) < pageIndexFromName(paths[j])
	})
}

func pageIndexFromName(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
