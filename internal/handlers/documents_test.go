package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/config"
	"github.com/foxxcyber/docscan/internal/database"
	"github.com/foxxcyber/docscan/internal/models"
	"github.com/foxxcyber/docscan/internal/services"
)

type stubPipeline struct {
	mu     sync.Mutex
	pages  []string
	images map[string][]byte
	err    error
	panics bool

	calls  int
	names  []string
	inputs [][]byte
}

func (s *stubPipeline) Predict(ctx context.Context, inputPath string) ([]models.PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	data, _ := os.ReadFile(inputPath)
	s.names = append(s.names, filepath.Base(inputPath))
	s.inputs = append(s.inputs, data)

	if s.panics {
		panic("pipeline exploded")
	}
	if s.err != nil {
		return nil, s.err
	}

	results := make([]models.PageResult, len(s.pages))
	for i, text := range s.pages {
		page := models.MarkdownPage{Text: text}
		if i == 0 {
			page.Images = s.images
		}
		results[i] = models.PageResult{Index: i, Markdown: page}
	}
	return results, nil
}

func (s *stubPipeline) ConcatenateMarkdownPages(pages []models.MarkdownPage) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return strings.Join(texts, " + ")
}

func newTestApp(t *testing.T, h *Handler) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(recover.New())
	h.RegisterRoutes(app)
	return app
}

func newTestHandler(t *testing.T, p services.Pipeline) (*Handler, string) {
	t.Helper()
	root := t.TempDir()
	return New(&config.Config{WorkspaceDir: root}, p), root
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", "application/octet-stream")
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("workspace root is not empty: %v", names)
	}
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("error body %q is not JSON: %v", body, err)
	}
	return resp
}

func TestProcessDocumentReturnsMarkdown(t *testing.T) {
	pipeline := &stubPipeline{pages: []string{"a", "b"}}
	h, root := newTestHandler(t, pipeline)
	app := newTestApp(t, h)

	upload := []byte("%PDF-1.4 fake document bytes")
	resp, body := doRequest(t, app, uploadRequest(t, "/process-document", "report.pdf", upload))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/markdown; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Content-Disposition"); got != "attachment; filename=report.md" {
		t.Errorf("Content-Disposition = %q", got)
	}
	if string(body) != "a + b" {
		t.Errorf("body = %q, want the pipeline's concatenation", body)
	}

	if pipeline.calls != 1 || pipeline.names[0] != "report.pdf" {
		t.Errorf("pipeline saw %v", pipeline.names)
	}
	if !bytes.Equal(pipeline.inputs[0], upload) {
		t.Errorf("upload was not copied verbatim")
	}
	assertEmptyDir(t, root)
}

func TestProcessDocumentJSON(t *testing.T) {
	pipeline := &stubPipeline{pages: []string{"a", "b"}}
	h, root := newTestHandler(t, pipeline)
	app := newTestApp(t, h)

	resp, body := doRequest(t, app, uploadRequest(t, "/process-document-json", "scan.page.png", []byte("png")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"filename":    "scan.page",
		"markdown":    "a + b",
		"page_count":  float64(2),
		"image_count": float64(0),
	}
	if len(got) != len(want) {
		t.Fatalf("response = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	assertEmptyDir(t, root)
}

func TestProcessDocumentSavesImagesInsideWorkspace(t *testing.T) {
	pipeline := &stubPipeline{
		pages:  []string{"![](imgs/page-1-img-1.jpg)"},
		images: map[string][]byte{"imgs/page-1-img-1.jpg": []byte("jpeg")},
	}
	h, root := newTestHandler(t, pipeline)
	app := newTestApp(t, h)

	resp, body := doRequest(t, app, uploadRequest(t, "/process-document-json", "photo.jpg", []byte("jpg")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var got models.ProcessDocumentResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.ImageCount != 1 || got.PageCount != 1 {
		t.Errorf("counts = %+v", got)
	}
	assertEmptyDir(t, root)
}

func TestProcessDocumentRejectsMissingFilename(t *testing.T) {
	for _, target := range []string{"/process-document", "/process-document-json"} {
		pipeline := &stubPipeline{pages: []string{"a"}}
		h, root := newTestHandler(t, pipeline)
		app := newTestApp(t, h)

		resp, body := doRequest(t, app, uploadRequest(t, target, "", []byte("data")))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, body = %s", target, resp.StatusCode, body)
		}
		if e := decodeError(t, body); e.Kind != string(apperr.InvalidInput) {
			t.Errorf("%s: kind = %q", target, e.Kind)
		}
		if pipeline.calls != 0 {
			t.Errorf("%s: pipeline must not be called", target)
		}
		assertEmptyDir(t, root)
	}
}

func TestProcessDocumentRejectsMissingFile(t *testing.T) {
	h, root := newTestHandler(t, &stubPipeline{})
	app := newTestApp(t, h)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("note", "no file here"); err != nil {
		t.Fatal(err)
	}
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/process-document", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, respBody := doRequest(t, app, req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, respBody)
	}
	assertEmptyDir(t, root)
}

func TestProcessDocumentPipelineFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   apperr.Kind
	}{
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, apperr.Internal},
		{"invalid input", apperr.New(apperr.InvalidInput, "predict", "unsupported document type"), http.StatusBadRequest, apperr.InvalidInput},
		{"upstream unavailable", apperr.New(apperr.UpstreamUnavailable, "chat completion", "connection refused"), http.StatusServiceUnavailable, apperr.UpstreamUnavailable},
		{"upstream error", apperr.New(apperr.UpstreamError, "chat completion", "status 500"), http.StatusBadGateway, apperr.UpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, root := newTestHandler(t, &stubPipeline{err: tt.err})
			app := newTestApp(t, h)

			resp, body := doRequest(t, app, uploadRequest(t, "/process-document", "doc.pdf", []byte("%PDF-")))
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.status, body)
			}
			e := decodeError(t, body)
			if e.Error != "Processing error: "+tt.err.Error() || e.Kind != string(tt.kind) {
				t.Errorf("body = %+v", e)
			}
			assertEmptyDir(t, root)
		})
	}
}

func TestProcessDocumentPanicStillCleansWorkspace(t *testing.T) {
	h, root := newTestHandler(t, &stubPipeline{panics: true})
	app := newTestApp(t, h)

	resp, _ := doRequest(t, app, uploadRequest(t, "/process-document", "doc.pdf", []byte("%PDF-")))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	assertEmptyDir(t, root)
}

func TestProcessDocumentHTMLFormat(t *testing.T) {
	h, _ := newTestHandler(t, &stubPipeline{pages: []string{"# Title", "Body text."}})
	app := newTestApp(t, h)

	resp, body := doRequest(t, app, uploadRequest(t, "/process-document?format=html", "notes.png", []byte("png")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Content-Disposition"); got != "attachment; filename=notes.html" {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(string(body), "<title>notes</title>") {
		t.Errorf("body = %s", body)
	}

	resp, _ = doRequest(t, app, uploadRequest(t, "/process-document?format=docx", "notes.png", []byte("png")))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown format status = %d", resp.StatusCode)
	}
}

type failingPipeline struct{ t *testing.T }

func (f failingPipeline) Predict(ctx context.Context, inputPath string) ([]models.PageResult, error) {
	f.t.Error("health must not call the pipeline")
	return nil, errors.New("unexpected call")
}

func (f failingPipeline) ConcatenateMarkdownPages(pages []models.MarkdownPage) string {
	f.t.Error("health must not call the pipeline")
	return ""
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, failingPipeline{t: t})
	app := newTestApp(t, h)

	resp, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(body) != `{"status":"healthy","service":"PaddleOCR Processing API"}` {
		t.Fatalf("body = %s", body)
	}
}

type memoryRunStore struct {
	mu   sync.Mutex
	runs []models.Run
}

func (m *memoryRunStore) CreateRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memoryRunStore) GetRunByID(ctx context.Context, id string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, database.ErrRunNotFound
}

func (m *memoryRunStore) ListRuns(ctx context.Context, params models.RunListParams) ([]models.Run, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Run
	for _, r := range m.runs {
		if params.Status == nil || string(r.Status) == *params.Status {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

type recordingArchiver struct {
	runID  string
	name   string
	images []string
}

func (r *recordingArchiver) ArchiveRun(ctx context.Context, runID, markdownName, markdown, imagesRoot string, imagePaths []string) (*services.ArchiveResult, error) {
	r.runID = runID
	r.name = markdownName
	for _, p := range imagePaths {
		if _, err := os.Stat(filepath.Join(imagesRoot, p)); err != nil {
			return nil, err
		}
		r.images = append(r.images, p)
	}
	return &services.ArchiveResult{
		Key:         services.RunArchivePrefix(runID),
		URL:         "https://archive.example/" + runID,
		ObjectCount: len(imagePaths) + 1,
	}, nil
}

func TestRunHistoryAndArchive(t *testing.T) {
	pipeline := &stubPipeline{
		pages:  []string{"x"},
		images: map[string][]byte{"imgs/page-1-img-1.jpg": []byte("jpeg")},
	}
	store := &memoryRunStore{}
	archiver := &recordingArchiver{}
	h, root := newTestHandler(t, pipeline)
	h.WithRunStore(store).WithArchiver(archiver)
	app := newTestApp(t, h)

	resp, body := doRequest(t, app, uploadRequest(t, "/process-document-json", "ledger.pdf", []byte("%PDF-")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var got models.ProcessDocumentResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID == "" || got.RunID != archiver.runID {
		t.Fatalf("run_id = %q, archived %q", got.RunID, archiver.runID)
	}
	if got.ArchiveURL != "https://archive.example/"+got.RunID {
		t.Errorf("archive_url = %q", got.ArchiveURL)
	}
	if archiver.name != "ledger.md" || len(archiver.images) != 1 {
		t.Errorf("archived %s with %v", archiver.name, archiver.images)
	}

	run := store.runs[0]
	if run.Status != models.RunStatusCompleted || run.Filename != "ledger.pdf" || run.PageCount != 1 || run.ImageCount != 1 {
		t.Errorf("run = %+v", run)
	}
	if len(run.Fingerprint) != 64 || run.ArchiveKey == nil || *run.ArchiveKey != "runs/"+run.ID {
		t.Errorf("run fingerprint/archive = %q/%v", run.Fingerprint, run.ArchiveKey)
	}

	pipeline.err = apperr.New(apperr.UpstreamError, "chat completion", "bad gateway")
	resp, _ = doRequest(t, app, uploadRequest(t, "/process-document", "ledger.pdf", []byte("%PDF-")))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	failed := store.runs[1]
	if failed.Status != models.RunStatusFailed || failed.ErrorKind == nil || *failed.ErrorKind != string(apperr.UpstreamError) {
		t.Errorf("failed run = %+v", failed)
	}
	assertEmptyDir(t, root)

	resp, body = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/runs?status=failed", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Success bool         `json:"success"`
		Data    []models.Run `json:"data"`
		Meta    Meta         `json:"meta"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if !list.Success || len(list.Data) != 1 || list.Meta.Total != 1 || list.Meta.Limit != 20 {
		t.Errorf("list = %+v", list)
	}

	resp, _ = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/runs/"+got.RunID, nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get run status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/runs?status=bogus", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad filter status = %d", resp.StatusCode)
	}
}

func TestRunRoutesAbsentWithoutStore(t *testing.T) {
	h, _ := newTestHandler(t, &stubPipeline{})
	app := newTestApp(t, h)

	resp, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
