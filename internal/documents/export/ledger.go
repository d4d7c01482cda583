// Package export renders a document's version ledger as XLSX or PDF.
package export

import (
	"fmt"
	"strings"
	"time"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts the query-string spelling of a format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatXLSX, "":
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Header describes the document whose ledger is exported.
type Header struct {
	DocumentID     string
	DocumentName   string
	Status         string
	CurrentStage   int
	CurrentVersion int
	GeneratedAt    time.Time
}

// Row is one ledger entry.
type Row struct {
	Version   int
	Action    string
	Content   string
	FileKey   string
	CreatedBy string
	CreatedAt time.Time
}

// Filename is the attachment name for an export.
func Filename(h Header, f Format) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, h.DocumentName)
	if name == "" {
		name = h.DocumentID
	}
	return fmt.Sprintf("%s-ledger.%s", name, f)
}

var (
	columns = []string{"version", "action", "content", "file", "created_by", "created_at"}
	labels  = []string{"Version", "Action", "Content", "File", "Created By", "Created At"}
)

func (r Row) values() map[string]interface{} {
	return map[string]interface{}{
		"version":    r.Version,
		"action":     r.Action,
		"content":    r.Content,
		"file":       r.FileKey,
		"created_by": r.CreatedBy,
		"created_at": r.CreatedAt,
	}
}

// Render writes rows in the requested format.
func Render(f Format, h Header, rows []Row) ([]byte, error) {
	if h.GeneratedAt.IsZero() {
		h.GeneratedAt = time.Now().UTC()
	}
	switch f {
	case FormatPDF:
		return renderPDF(h, rows)
	case FormatXLSX:
		return renderXLSX(h, rows)
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
}
