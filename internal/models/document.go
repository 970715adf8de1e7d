package models

import (
	"fmt"
	"sort"
	"strings"
)

// Task selects the instruction sent alongside an image
type Task string

const (
	TaskOCR     Task = "ocr"
	TaskTable   Task = "table"
	TaskFormula Task = "formula"
	TaskChart   Task = "chart"
)

var taskPrompts = map[Task]string{
	TaskOCR:     "OCR:",
	TaskTable:   "Table Recognition:",
	TaskFormula: "Formula Recognition:",
	TaskChart:   "Chart Recognition:",
}

// ParseTask resolves a task name such as "ocr" or "table"
func ParseTask(name string) (Task, error) {
	task := Task(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := taskPrompts[task]; !ok {
		return "", fmt.Errorf("unknown task %q (supported: %s)", name, strings.Join(TaskNames(), ", "))
	}
	return task, nil
}

// Prompt returns the task prefix instruction, e.g. "OCR:"
func (t Task) Prompt() string {
	return taskPrompts[t]
}

// TaskNames lists the supported task names in sorted order
func TaskNames() []string {
	names := make([]string, 0, len(taskPrompts))
	for t := range taskPrompts {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// ContentKind is the closed set of input kinds the request builder handles
type ContentKind string

const (
	ContentImage ContentKind = "image"
	ContentPDF   ContentKind = "pdf"
	ContentText  ContentKind = "text"
)

// PartType identifies a content part inside a chat message
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ImageURL carries a hyperlink or data URL
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multi-part user message
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Payload is the content of one user message sent in one chat-completion call
type Payload struct {
	Source string
	Kind   ContentKind
	Page   int
	Parts  []ContentPart
}

// MarkdownPage is the markdown of a single page as produced by a pipeline
type MarkdownPage struct {
	Text string
	// Images maps a relative output path to encoded image bytes
	Images map[string][]byte
	// StartsParagraph is false when the first block continues the previous page
	StartsParagraph bool
	// EndsParagraph is false when the last block runs on to the next page
	EndsParagraph bool
}

// PageResult is one element of a pipeline prediction
type PageResult struct {
	Index    int
	Markdown MarkdownPage
}

// DocumentResult is the assembled output of a document
type DocumentResult struct {
	Markdown   string
	PageCount  int
	ImageCount int
	ImagePaths []string
}

// ProcessDocumentResponse is returned by the JSON processing endpoint
type ProcessDocumentResponse struct {
	Filename   string `json:"filename"`
	Markdown   string `json:"markdown"`
	PageCount  int    `json:"page_count"`
	ImageCount int    `json:"image_count"`
	RunID      string `json:"run_id,omitempty"`
	ArchiveURL string `json:"archive_url,omitempty"`
}
