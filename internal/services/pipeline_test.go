package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/models"
)

type fakeRecognizer struct {
	mu    sync.Mutex
	tasks []models.Task
	fn    func(image []byte, mediaType string) (string, error)
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, mediaType string, task models.Task) (string, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	return f.fn(image, mediaType)
}

func writePDFStub(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVLPipelinePredictImage(t *testing.T) {
	dir := t.TempDir()
	path := writeImageFile(t, dir, "photo.png")

	var gotType string
	rec := &fakeRecognizer{fn: func(_ []byte, mediaType string) (string, error) {
		gotType = mediaType
		return "  Receipt total 4.20.\n", nil
	}}
	p := NewVLPipeline(rec, &fakeRenderer{}, VLPipelineOptions{Task: models.TaskTable})

	pages, err := p.Predict(context.Background(), path)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if pages[0].Markdown.Text != "Receipt total 4.20." {
		t.Errorf("Text = %q", pages[0].Markdown.Text)
	}
	if gotType != "image/png" {
		t.Errorf("media type = %q", gotType)
	}
	if len(rec.tasks) != 1 || rec.tasks[0] != models.TaskTable {
		t.Errorf("tasks = %v", rec.tasks)
	}
}

func TestVLPipelinePredictPDFKeepsPageOrder(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()
	path := writePDFStub(t, dir)

	renderer := &fakeRenderer{pages: [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma"), []byte("delta")}}
	rec := &fakeRecognizer{fn: func(image []byte, _ string) (string, error) {
		// later pages finish first
		if string(image) == "alpha" {
			time.Sleep(20 * time.Millisecond)
		}
		return "Text of " + string(image) + ".", nil
	}}
	p := NewVLPipeline(rec, renderer, VLPipelineOptions{PageWorkers: 3, ScratchDir: scratch})

	pages, err := p.Predict(context.Background(), path)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	want := []string{"alpha", "beta", "gamma", "delta"}
	if len(pages) != len(want) {
		t.Fatalf("expected %d pages, got %d", len(want), len(pages))
	}
	for i, w := range want {
		if pages[i].Index != i || pages[i].Markdown.Text != "Text of "+w+"." {
			t.Errorf("page %d = %+v", i, pages[i])
		}
	}
	for _, task := range rec.tasks {
		if task != models.TaskOCR {
			t.Errorf("default task = %q, want ocr", task)
		}
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned up: %d entries", len(entries))
	}
}

func TestVLPipelinePageFailureAbortsDocument(t *testing.T) {
	dir := t.TempDir()
	path := writePDFStub(t, dir)

	renderer := &fakeRenderer{pages: [][]byte{[]byte("one"), []byte("two"), []byte("three")}}
	rec := &fakeRecognizer{fn: func(image []byte, _ string) (string, error) {
		if string(image) == "two" {
			return "", apperr.New(apperr.UpstreamUnavailable, "chat completion", "connection refused")
		}
		return "ok", nil
	}}
	p := NewVLPipeline(rec, renderer, VLPipelineOptions{ScratchDir: t.TempDir()})

	pages, err := p.Predict(context.Background(), path)
	if err == nil {
		t.Fatal("expected error")
	}
	if pages != nil {
		t.Errorf("expected no partial output, got %d pages", len(pages))
	}
	if !strings.HasPrefix(err.Error(), "page 2:") || !apperr.Is(err, apperr.UpstreamUnavailable) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestVLPipelineRejectsNonDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("plain words"), 0o644); err != nil {
		t.Fatal(err)
	}

	called := false
	rec := &fakeRecognizer{fn: func([]byte, string) (string, error) {
		called = true
		return "", nil
	}}
	_, err := NewVLPipeline(rec, &fakeRenderer{}, VLPipelineOptions{}).Predict(context.Background(), path)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if called {
		t.Fatal("recognizer must not be called")
	}
}

type countingPipeline struct {
	inFlight int32
	peak     int32
	calls    int32
}

func (c *countingPipeline) Predict(ctx context.Context, inputPath string) ([]models.PageResult, error) {
	atomic.AddInt32(&c.calls, 1)
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&c.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&c.peak, peak, n) {
			break
		}
	}
	time.Sleep(15 * time.Millisecond)
	return []models.PageResult{{Index: 0}}, nil
}

func (c *countingPipeline) ConcatenateMarkdownPages(pages []models.MarkdownPage) string {
	return "joined"
}

func TestSharedPipelineSerializesPredictions(t *testing.T) {
	for _, limit := range []int{0, 1, 2} {
		inner := &countingPipeline{}
		shared := NewSharedPipeline(inner, limit)

		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := shared.Predict(context.Background(), "x"); err != nil {
					t.Errorf("Predict() error = %v", err)
				}
			}()
		}
		wg.Wait()

		want := int32(limit)
		if want < 1 {
			want = 1
		}
		if peak := atomic.LoadInt32(&inner.peak); peak > want {
			t.Errorf("limit %d: %d predictions ran concurrently", limit, peak)
		}
		if calls := atomic.LoadInt32(&inner.calls); calls != 6 {
			t.Errorf("limit %d: %d calls, want 6", limit, calls)
		}
	}
}

func TestSharedPipelineCancelledWhileWaiting(t *testing.T) {
	inner := &countingPipeline{}
	shared := NewSharedPipeline(inner, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := shared.Predict(ctx, "x"); !apperr.Is(err, apperr.Internal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 0 {
		t.Fatal("inner pipeline must not run")
	}
	if got := shared.ConcatenateMarkdownPages(nil); got != "joined" {
		t.Fatalf("ConcatenateMarkdownPages() = %q", got)
	}
}
