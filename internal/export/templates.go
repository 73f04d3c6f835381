package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var revisionTemplate = template.Must(
	template.New("revision.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/revision.html"),
)

// TemplateData holds data for revision template rendering
type TemplateData struct {
	Title          string
	DocumentID     string
	BranchName     string
	RevisionNumber int
	CommitMessage  string
	Author         string
	CreatedAt      time.Time
	WordCount      int
	Sections       []TemplateSection
}

// TemplateSection is one section split into paragraphs.
type TemplateSection struct {
	Name       string
	Paragraphs []string
}

func newTemplateData(req Request) TemplateData {
	data := TemplateData{
		Title:          req.DocumentID,
		DocumentID:     req.DocumentID,
		BranchName:     req.BranchName,
		RevisionNumber: req.RevisionNumber,
		CommitMessage:  req.CommitMessage,
		Author:         req.Author,
		CreatedAt:      req.CreatedAt,
		WordCount:      req.Content.WordCount(),
	}
	if title, ok := req.Content.Get("title"); ok && strings.TrimSpace(title) != "" {
		data.Title = strings.TrimSpace(title)
	}
	for _, name := range req.Content.Keys() {
		if name == "title" {
			continue
		}
		text, _ := req.Content.Get(name)
		data.Sections = append(data.Sections, TemplateSection{
			Name:       name,
			Paragraphs: splitParagraphs(text),
		})
	}
	return data
}

// splitParagraphs breaks section text on blank lines.
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(normalized, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

// RenderRevisionHTML renders the revision template with provided data
func RenderRevisionHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := revisionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
