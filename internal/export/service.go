package export

import (
	"context"
	"fmt"
)

type renderer func(ctx context.Context, html, title string) (*Result, error)

// Service provides revision export functionality
type Service struct {
	pdf  renderer
	docx renderer
}

func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	format := req.Format
	if format == "" {
		format = FormatPDF
	}

	data := newTemplateData(req)
	html, err := RenderRevisionHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("%s %s r%d", req.DocumentID, req.BranchName, req.RevisionNumber)
	switch format {
	case FormatPDF:
		return s.pdf(ctx, html, title)
	case FormatDOCX:
		return s.docx(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
