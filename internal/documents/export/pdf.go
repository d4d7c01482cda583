package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFOptions configures PDF generation
type PDFOptions struct {
	PageSize       string
	Orientation    string // portrait, landscape
	DateFormat     string
	FontFamily     string
	FontSize       float64
	HeaderFontSize float64
	TitleFontSize  float64
	HeaderColor    PDFColor
	AlternateColor PDFColor
	Margins        PDFMargins
}

// PDFColor represents an RGB color
type PDFColor struct {
	R, G, B int
}

// PDFMargins represents page margins
type PDFMargins struct {
	Left, Right, Top, Bottom float64
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "landscape",
		DateFormat:     "2006-01-02 15:04",
		FontFamily:     "Arial",
		FontSize:       9,
		HeaderFontSize: 10,
		TitleFontSize:  16,
		HeaderColor:    PDFColor{R: 68, G: 114, B: 196},
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		Margins:        PDFMargins{Left: 12, Right: 12, Top: 15, Bottom: 15},
	}
}

// PDFGenerator renders the ledger as an audit trail.
type PDFGenerator struct {
	pdf     *gofpdf.Fpdf
	options PDFOptions
}

func NewPDFGenerator(options PDFOptions) *PDFGenerator {
	orientation := "P"
	if options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", options.PageSize, "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(true, options.Margins.Bottom)

	g := &PDFGenerator{pdf: pdf, options: options}
	g.setFooter()
	return g
}

func renderPDF(h Header, rows []Row) ([]byte, error) {
	g := NewPDFGenerator(DefaultPDFOptions())
	g.AuditTrail(h, rows)
	return g.OutputToBytes()
}

// AuditTrail writes the document summary followed by the ledger table.
func (g *PDFGenerator) AuditTrail(h Header, rows []Row) {
	g.pdf.SetTitle(h.DocumentName+" audit trail", true)
	g.pdf.AddPage()

	g.pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 10, "Audit trail: "+h.DocumentName, "", 1, "C", false, 0, "")

	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize-1)
	g.pdf.SetTextColor(128, 128, 128)
	g.pdf.CellFormat(0, 6, "Generated: "+h.GeneratedAt.Format(g.options.DateFormat), "", 1, "R", false, 0, "")
	g.pdf.Ln(4)

	g.summary([][2]string{
		{"Document ID", h.DocumentID},
		{"Status", h.Status},
		{"Current stage", fmt.Sprint(h.CurrentStage)},
		{"Current version", fmt.Sprint(h.CurrentVersion)},
		{"Ledger entries", fmt.Sprint(len(rows))},
	})
	g.pdf.Ln(6)

	widths := g.columnWidths()
	g.tableHeader(widths)
	g.tableRows(rows, widths)
}

func (g *PDFGenerator) summary(items [][2]string) {
	g.pdf.SetTextColor(0, 0, 0)
	for _, it := range items {
		g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize)
		g.pdf.CellFormat(40, 6, it[0]+":", "", 0, "L", false, 0, "")
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
		g.pdf.CellFormat(0, 6, it[1], "", 1, "L", false, 0, "")
	}
}

// columnWidths gives content and file the remaining width.
func (g *PDFGenerator) columnWidths() []float64 {
	pageWidth, _ := g.pdf.GetPageSize()
	available := pageWidth - g.options.Margins.Left - g.options.Margins.Right
	fixed := []float64{16, 24, 0, 0, 62, 32}
	rest := available
	for _, w := range fixed {
		rest -= w
	}
	fixed[2] = rest * 0.55
	fixed[3] = rest * 0.45
	return fixed
}

func (g *PDFGenerator) tableHeader(widths []float64) {
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	g.pdf.SetFillColor(g.options.HeaderColor.R, g.options.HeaderColor.G, g.options.HeaderColor.B)
	g.pdf.SetTextColor(255, 255, 255)
	for i, label := range labels {
		g.pdf.CellFormat(widths[i], 8, label, "1", 0, "C", true, 0, "")
	}
	g.pdf.Ln(-1)
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	g.pdf.SetTextColor(0, 0, 0)
}

func (g *PDFGenerator) tableRows(rows []Row, widths []float64) {
	_, pageHeight := g.pdf.GetPageSize()
	for i, r := range rows {
		if g.pdf.GetY()+7 > pageHeight-g.options.Margins.Bottom {
			g.pdf.AddPage()
			g.tableHeader(widths)
		}

		if i%2 == 1 {
			g.pdf.SetFillColor(g.options.AlternateColor.R, g.options.AlternateColor.G, g.options.AlternateColor.B)
		} else {
			g.pdf.SetFillColor(255, 255, 255)
		}

		cells := []string{
			fmt.Sprint(r.Version),
			r.Action,
			r.Content,
			r.FileKey,
			r.CreatedBy,
			formatTime(r.CreatedAt, g.options.DateFormat),
		}
		for j, val := range cells {
			g.pdf.CellFormat(widths[j], 7, g.fit(val, widths[j]), "1", 0, "L", true, 0, "")
		}
		g.pdf.Ln(-1)
	}
}

// fit truncates val so it renders inside width.
func (g *PDFGenerator) fit(val string, width float64) string {
	if g.pdf.GetStringWidth(val) <= width-2 {
		return val
	}
	r := []rune(val)
	for len(r) > 0 && g.pdf.GetStringWidth(string(r)+"...") > width-2 {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

func (g *PDFGenerator) setFooter() {
	g.pdf.SetFooterFunc(func() {
		g.pdf.SetY(-12)
		g.pdf.SetFont(g.options.FontFamily, "", 8)
		g.pdf.SetTextColor(128, 128, 128)
		g.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", g.pdf.PageNo()), "", 0, "C", false, 0, "")
	})
}

// OutputToBytes returns the PDF as bytes
func (g *PDFGenerator) OutputToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}
