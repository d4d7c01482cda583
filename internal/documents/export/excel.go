package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName    string
	FreezeHeader bool
	AutoFilter   bool
	AutoWidth    bool
	DateFormat   string
	HeaderStyle  *ExcelStyleConfig
	DataStyle    *ExcelStyleConfig
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool
	FontSize  int
	FontColor string
	FillColor string
	Alignment string // left, center, right
	Border    bool
	WrapText  bool
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:    "Ledger",
		FreezeHeader: true,
		AutoFilter:   true,
		AutoWidth:    true,
		DateFormat:   "yyyy-mm-dd hh:mm:ss",
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "4472C4",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
		DataStyle: &ExcelStyleConfig{
			FontSize:  11,
			Alignment: "left",
			Border:    true,
			WrapText:  true,
		},
	}
}

// ExcelExporter writes the ledger to a single worksheet, with a second
// sheet summarising the document.
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
}

func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	file.SetSheetName("Sheet1", options.SheetName)
	return &ExcelExporter{file: file, options: options}
}

func renderXLSX(h Header, rows []Row) ([]byte, error) {
	e := NewExcelExporter(DefaultExcelOptions())
	defer e.Close()

	if err := e.WriteHeader(labels); err != nil {
		return nil, err
	}
	data := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		data[i] = r.values()
	}
	if err := e.WriteRows(data, columns); err != nil {
		return nil, err
	}
	if err := e.WriteSummary(h, len(rows)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := e.file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHeader writes the header row with styling
func (e *ExcelExporter) WriteHeader(labels []string) error {
	sheet := e.options.SheetName

	styleID := 0
	if e.options.HeaderStyle != nil {
		id, err := e.createStyle(e.options.HeaderStyle, "")
		if err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
		styleID = id
	}

	for i, label := range labels {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := e.file.SetCellValue(sheet, cell, label); err != nil {
			return err
		}
		if styleID > 0 {
			e.file.SetCellStyle(sheet, cell, cell, styleID)
		}
	}

	if e.options.FreezeHeader {
		e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

// WriteRows writes data rows below the header
func (e *ExcelExporter) WriteRows(rows []map[string]interface{}, columns []string) error {
	sheet := e.options.SheetName

	dataStyle, dateStyle := 0, 0
	if e.options.DataStyle != nil {
		var err error
		if dataStyle, err = e.createStyle(e.options.DataStyle, ""); err != nil {
			return fmt.Errorf("failed to create data style: %w", err)
		}
		if dateStyle, err = e.createStyle(e.options.DataStyle, e.options.DateFormat); err != nil {
			return fmt.Errorf("failed to create date style: %w", err)
		}
	}

	widths := make(map[int]float64)
	for rowIdx, row := range rows {
		for colIdx, col := range columns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			val := row[col]

			style := dataStyle
			if t, ok := val.(time.Time); ok {
				style = dateStyle
				if t.IsZero() {
					val = ""
				}
			}
			if err := e.file.SetCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
			if style > 0 {
				e.file.SetCellStyle(sheet, cell, cell, style)
			}

			if w := float64(len(fmt.Sprintf("%v", val))) * 1.2; w > widths[colIdx] {
				widths[colIdx] = w
			}
		}
	}

	if e.options.AutoFilter && len(rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(columns), len(rows)+1)
		if err := e.file.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return err
		}
	}

	if e.options.AutoWidth {
		for colIdx, width := range widths {
			name, _ := excelize.ColumnNumberToName(colIdx + 1)
			e.file.SetColWidth(sheet, name, name, clamp(width, 10, 60))
		}
	}
	return nil
}

// WriteSummary adds a sheet describing the exported document.
func (e *ExcelExporter) WriteSummary(h Header, total int) error {
	const sheet = "Document"
	if _, err := e.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	pairs := [][2]interface{}{
		{"Document ID", h.DocumentID},
		{"Name", h.DocumentName},
		{"Status", h.Status},
		{"Current Stage", h.CurrentStage},
		{"Current Version", h.CurrentVersion},
		{"Ledger Entries", total},
		{"Generated At", h.GeneratedAt.Format(time.RFC3339)},
	}
	for i, p := range pairs {
		e.file.SetCellValue(sheet, fmt.Sprintf("A%d", i+1), p[0])
		e.file.SetCellValue(sheet, fmt.Sprintf("B%d", i+1), p[1])
	}
	e.file.SetColWidth(sheet, "A", "A", 20)
	e.file.SetColWidth(sheet, "B", "B", 45)
	return nil
}

// Close closes the Excel file
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) createStyle(config *ExcelStyleConfig, numFmt string) (int, error) {
	style := &excelize.Style{
		Font: &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		},
	}
	if config.FillColor != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{config.FillColor}}
	}
	if config.Alignment != "" || config.WrapText {
		style.Alignment = &excelize.Alignment{Horizontal: config.Alignment, WrapText: config.WrapText}
	}
	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}
	if numFmt != "" {
		style.CustomNumFmt = &numFmt
	}
	return e.file.NewStyle(style)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
