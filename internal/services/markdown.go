package services

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"image"
	"image/draw"
	"image/jpeg"
	"mime"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	_ "image/gif"
	_ "image/png"

	"github.com/PuerkitoBio/goquery"
	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/foxxcyber/docscan/internal/models"
)

// ImagesDir is the relative directory that extracted page images are written under
const ImagesDir = "imgs"

var (
	detectionBlock   = regexp.MustCompile(`(?s)<\|ref\|>(?P<label>.*?)<\|/ref\|>\s*<\|det\|>(?P<coords>.*?)<\|/det\|>`)
	specialToken     = regexp.MustCompile(`<\|.*?\|>`)
	markdownDataImg  = regexp.MustCompile(`!\[([^\]]*)\]\((data:[^)\s]+)\)`)
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
)

var textualLabels = []string{
	"text", "title", "subtitle", "sub_title", "caption", "paragraph", "header",
	"footer", "footnote", "list", "figure", "table", "page_number",
}

var fullWidthPunctuation = strings.NewReplacer(
	"，", ",", "。", ".", "；", ",", "：", ":", "【", "[", "】", "]",
	"（", "(", "）", ")", "、", ",", "％", "%", "－", "-",
)

var mdParser = goldmark.New().Parser()

var htmlMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM, treeblood.MathML()),
	goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
)

// BuildMarkdownPage post-processes the raw recognizer output of one page:
// grounded image regions are cropped out of pageImage, inline data-URL images
// are decoded, and the continuation flags are computed.
func BuildMarkdownPage(raw string, pageImage []byte, pageIndex int) (models.MarkdownPage, error) {
	images := make(map[string][]byte)

	md, err := replaceDetectionBlocks(raw, pageImage, pageIndex, images)
	if err != nil {
		return models.MarkdownPage{}, err
	}
	md = extractInlineImages(md, pageIndex, images)

	starts, ends := continuationFlags(md)
	return models.MarkdownPage{
		Text:            md,
		Images:          images,
		StartsParagraph: starts,
		EndsParagraph:   ends,
	}, nil
}

// ConcatenateMarkdownPages joins pages with a blank line, except where a
// paragraph runs across the page boundary. Those are joined with a space, or
// directly when either side is CJK.
func ConcatenateMarkdownPages(pages []models.MarkdownPage) string {
	var b strings.Builder
	prevEnds := true
	for _, page := range pages {
		content := strings.TrimSpace(page.Text)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			if !prevEnds && !page.StartsParagraph {
				last, _ := utf8.DecodeLastRuneInString(b.String())
				first, _ := utf8.DecodeRuneInString(content)
				if !isCJK(last) && !isCJK(first) {
					b.WriteString(" ")
				}
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(content)
		prevEnds = page.EndsParagraph
	}
	return b.String()
}

// RenderHTML renders markdown as a standalone HTML document. LaTeX math from
// formula recognition is rendered as MathML.
func RenderHTML(markdown, title string) ([]byte, error) {
	var body bytes.Buffer
	if err := htmlMarkdown.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>%s</title>\n", html.EscapeString(title))
	out.WriteString("</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

func continuationFlags(md string) (startsParagraph, endsParagraph bool) {
	startsParagraph, endsParagraph = true, true

	src := []byte(md)
	doc := mdParser.Parse(text.NewReader(src))

	if p, ok := doc.FirstChild().(*ast.Paragraph); ok && p.Lines().Len() > 0 {
		line := p.Lines().At(0)
		first, _ := utf8.DecodeRune(bytes.TrimSpace(line.Value(src)))
		if unicode.IsLower(first) || isCJK(first) {
			startsParagraph = false
		}
	}

	if p, ok := doc.LastChild().(*ast.Paragraph); ok && p.Lines().Len() > 0 {
		line := p.Lines().At(p.Lines().Len() - 1)
		last, _ := utf8.DecodeLastRune(bytes.TrimSpace(line.Value(src)))
		if last != utf8.RuneError && !isSentenceEnd(last) {
			endsParagraph = false
		}
	}
	return startsParagraph, endsParagraph
}

func isSentenceEnd(r rune) bool {
	return strings.ContainsRune(".!?:;\"')]}…。！？：；”’）」』", r)
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// replaceDetectionBlocks resolves grounding blocks of the form
// <|ref|>label<|/ref|><|det|>[[x1,y1,x2,y2]]<|/det|>. Coordinates are on a
// 0-999 grid relative to the page image.
func replaceDetectionBlocks(raw string, pageImage []byte, pageIndex int, images map[string][]byte) (string, error) {
	locs := detectionBlock.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return strings.TrimSpace(raw), nil
	}

	labelIdx := detectionBlock.SubexpIndex("label")
	coordsIdx := detectionBlock.SubexpIndex("coords")

	var page image.Image
	var b strings.Builder
	cursor := 0
	crop := 0
	for _, loc := range locs {
		b.WriteString(raw[cursor:loc[0]])
		cursor = loc[1]

		label := strings.TrimSpace(raw[loc[2*labelIdx]:loc[2*labelIdx+1]])
		coords := raw[loc[2*coordsIdx]:loc[2*coordsIdx+1]]

		switch {
		case strings.EqualFold(label, "image"):
			if page == nil {
				decoded, _, err := image.Decode(bytes.NewReader(pageImage))
				if err != nil {
					return "", fmt.Errorf("failed to decode page %d image: %w", pageIndex+1, err)
				}
				page = decoded
			}
			var refs []string
			for _, box := range parseCoords(coords) {
				rect := scaleBox(box, page.Bounds())
				if rect.Empty() {
					continue
				}
				crop++
				data, err := cropJPEG(page, rect)
				if err != nil {
					return "", err
				}
				name := fmt.Sprintf("%s/page-%d-img-%d.jpg", ImagesDir, pageIndex+1, crop)
				images[name] = data
				refs = append(refs, fmt.Sprintf("![](%s)", name))
			}
			b.WriteString(strings.Join(refs, "\n"))
		case isTextualLabel(label):
		default:
			fmt.Fprintf(&b, "<!-- %s -->", label)
		}
	}
	b.WriteString(raw[cursor:])

	out := strings.ReplaceAll(b.String(), "<|grounding|>", "")
	out = excessBlankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

func isTextualLabel(label string) bool {
	normalized := strings.TrimSpace(strings.ToLower(label))
	if normalized == "" {
		return true
	}
	for _, keyword := range textualLabels {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

// parseCoords accepts [x1,y1,x2,y2], [[x1,y1,x2,y2],...] and [[[x1,y1],[x2,y2]],...]
func parseCoords(raw string) [][4]float64 {
	cleaned := specialToken.ReplaceAllString(fullWidthPunctuation.Replace(raw), "")
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end < start {
		return nil
	}

	var data []interface{}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &data); err != nil {
		return nil
	}
	if box, ok := numericBox(data); ok {
		return [][4]float64{box}
	}

	var boxes [][4]float64
	for _, item := range data {
		list, ok := item.([]interface{})
		if !ok {
			continue
		}
		if box, ok := numericBox(list); ok {
			boxes = append(boxes, box)
			continue
		}
		if len(list) >= 2 {
			p1, ok1 := list[0].([]interface{})
			p2, ok2 := list[1].([]interface{})
			if ok1 && ok2 && len(p1) >= 2 && len(p2) >= 2 {
				if box, ok := numericBox([]interface{}{p1[0], p1[1], p2[0], p2[1]}); ok {
					boxes = append(boxes, box)
				}
			}
		}
	}
	return boxes
}

func numericBox(values []interface{}) ([4]float64, bool) {
	var box [4]float64
	if len(values) < 4 {
		return box, false
	}
	for i := 0; i < 4; i++ {
		f, ok := values[i].(float64)
		if !ok {
			return box, false
		}
		box[i] = f
	}
	return box, true
}

func scaleBox(box [4]float64, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(box[0]/999.0*w),
		bounds.Min.Y+int(box[1]/999.0*h),
		bounds.Min.X+int(box[2]/999.0*w),
		bounds.Min.Y+int(box[3]/999.0*h),
	)
	return rect.Intersect(bounds)
}

func cropJPEG(img image.Image, rect image.Rectangle) ([]byte, error) {
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}
	return buf.Bytes(), nil
}

// extractInlineImages decodes data-URL images embedded either as markdown
// images or as HTML <img> tags and rewrites them to relative paths.
func extractInlineImages(md string, pageIndex int, images map[string][]byte) string {
	n := 0
	store := func(dataURL string) (string, bool) {
		mediaType, data, err := ParseDataURL(dataURL)
		if err != nil {
			return "", false
		}
		n++
		name := fmt.Sprintf("%s/page-%d-inline-%d%s", ImagesDir, pageIndex+1, n, extensionFor(mediaType))
		images[name] = data
		return name, true
	}

	md = markdownDataImg.ReplaceAllStringFunc(md, func(match string) string {
		sub := markdownDataImg.FindStringSubmatch(match)
		name, ok := store(sub[2])
		if !ok {
			return match
		}
		return fmt.Sprintf("![%s](%s)", sub[1], name)
	})

	if !strings.Contains(md, "<img") {
		return md
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(md))
	if err != nil {
		return md
	}
	doc.Find(`img[src^="data:"]`).Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		name, ok := store(src)
		if !ok {
			return
		}
		md = strings.Replace(md, src, name, 1)
	})
	return md
}

// ParseDataURL decodes a base64 data URL
func ParseDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data URL has no payload")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, errors.New("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return mediaType, data, nil
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
