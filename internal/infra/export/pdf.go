// Package export renders an inspection report to PDF.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/bryanwahyu/defect-inspector/internal/infra/report"
)

var (
	// ErrNoReport means there is nothing to export yet.
	ErrNoReport = errors.New("no report to export")
	// ErrExportUnavailable means the PDF backend could not be prepared (font missing or unreadable).
	ErrExportUnavailable = errors.New("pdf export unavailable")
)

const (
	pageSize   = "A4"
	marginMM   = 10.0
	fontFamily = "report"
)

type rgb struct{ r, g, b int }

type accentColors struct{ fill, text rgb }

var accents = map[string]accentColors{
	"kts-i":              {rgb{209, 250, 229}, rgb{6, 95, 70}},
	"kts-ii":             {rgb{219, 234, 254}, rgb{30, 64, 175}},
	"kts-iii":            {rgb{254, 249, 195}, rgb{133, 77, 14}},
	"kts-iv":             {rgb{255, 237, 213}, rgb{154, 52, 18}},
	"kts-v":              {rgb{254, 226, 226}, rgb{153, 27, 27}},
	report.AccentUnknown: {rgb{241, 245, 249}, rgb{30, 41, 59}},

	report.PriorityUrgent:  {rgb{254, 226, 226}, rgb{185, 28, 28}},
	report.PriorityPlanned: {rgb{219, 234, 254}, rgb{29, 78, 216}},
}

// Exporter writes A4 portrait reports with 10 mm margins.
type Exporter struct {
	FontPath     string
	BoldFontPath string
}

func NewExporter(fontPath, boldFontPath string) *Exporter {
	return &Exporter{FontPath: fontPath, BoldFontPath: boldFontPath}
}

// FileName returns the download name for a report generated at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("defect_report_%s.pdf", t.Format("2006-01-02"))
}

// Export renders v and writes the PDF to w.
func (e *Exporter) Export(w io.Writer, v report.View, generatedAt time.Time) error {
	pdf := fpdf.New("P", "mm", pageSize, "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)
	pdf.SetCreationDate(generatedAt)
	pdf.SetTitle("Technical Expertise Result", true)
	pdf.SetCreator("defect-inspector", true)

	tr, family, err := e.setupFonts(pdf)
	if err != nil {
		return err
	}

	doc := &document{pdf: pdf, tr: tr, family: family}
	doc.render(v, generatedAt)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrExportUnavailable, err)
	}
	return pdf.Output(w)
}

// setupFonts registers a UTF-8 font when configured; the core font cannot print Cyrillic.
func (e *Exporter) setupFonts(pdf *fpdf.Fpdf) (func(string) string, string, error) {
	if e.FontPath == "" {
		return pdf.UnicodeTranslatorFromDescriptor(""), "Helvetica", nil
	}
	regular, err := os.ReadFile(e.FontPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrExportUnavailable, err)
	}
	bold := regular
	if e.BoldFontPath != "" {
		if bold, err = os.ReadFile(e.BoldFontPath); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrExportUnavailable, err)
		}
	}
	pdf.AddUTF8FontFromBytes(fontFamily, "", regular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", bold)
	if err := pdf.Error(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrExportUnavailable, err)
	}
	return func(s string) string { return s }, fontFamily, nil
}

type document struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	family string
}

func (d *document) width() float64 {
	w, _ := d.pdf.GetPageSize()
	left, _, right, _ := d.pdf.GetMargins()
	return w - left - right
}

func (d *document) render(v report.View, generatedAt time.Time) {
	pdf := d.pdf
	pdf.AddPage()

	pdf.SetTextColor(15, 23, 42)
	pdf.SetFont(d.family, "B", 16)
	pdf.CellFormat(0, 9, d.tr("Technical Expertise Result"), "", 1, "L", false, 0, "")
	pdf.SetFont(d.family, "", 9)
	pdf.SetTextColor(100, 116, 139)
	pdf.CellFormat(0, 5, d.tr(fmt.Sprintf("Generated %s   Confidence %s", generatedAt.Format("2006-01-02 15:04"), v.ConfidenceLabel)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	d.label("Identified Defect")
	pdf.SetFont(d.family, "B", 13)
	pdf.SetTextColor(15, 23, 42)
	pdf.MultiCell(0, 6, d.tr(v.Defect), "", "L", false)
	pdf.SetFont(d.family, "", 9)
	pdf.SetTextColor(71, 85, 105)
	pdf.MultiCell(0, 5, d.tr(v.Code), "", "L", false)
	pdf.Ln(3)

	kts := v.KTSHeadline
	if v.CategoryName != "" {
		kts += " - " + v.CategoryName
	}
	d.filled(v.KTSAccent, "B", 12, "KTS Category: "+kts)
	if v.KTSRationale != "" {
		pdf.SetFont(d.family, "", 9)
		pdf.SetTextColor(51, 65, 85)
		pdf.MultiCell(0, 5, d.tr(v.KTSRationale), "", "L", false)
	}
	pdf.Ln(3)

	d.section("Description", v.Description)
	if v.Reasoning != "" {
		d.section("Expert Reasoning", v.Reasoning)
	}
	d.section("Normative Reference", v.NormativeReference)

	d.label("Measures & Priority")
	d.filled(v.PriorityAccent, "B", 10, v.Priority)
	d.body(v.Measures)
	pdf.Ln(2)

	d.section("Repair Methods", v.RepairMethods)

	pdf.Ln(4)
	pdf.SetFont(d.family, "", 8)
	pdf.SetTextColor(148, 163, 184)
	pdf.MultiCell(0, 4, d.tr(v.Footer), "T", "C", false)
}

func (d *document) label(text string) {
	d.pdf.SetFont(d.family, "B", 10)
	d.pdf.SetTextColor(15, 23, 42)
	d.pdf.CellFormat(0, 6, d.tr(text), "", 1, "L", false, 0, "")
}

func (d *document) body(text string) {
	d.pdf.SetFont(d.family, "", 10)
	d.pdf.SetTextColor(51, 65, 85)
	d.pdf.MultiCell(0, 5, d.tr(text), "", "L", false)
}

func (d *document) section(title, text string) {
	d.label(title)
	d.body(text)
	d.pdf.Ln(2)
}

func (d *document) filled(accent, style string, size float64, text string) {
	c, ok := accents[accent]
	if !ok {
		c = accents[report.AccentUnknown]
	}
	d.pdf.SetFillColor(c.fill.r, c.fill.g, c.fill.b)
	d.pdf.SetTextColor(c.text.r, c.text.g, c.text.b)
	d.pdf.SetFont(d.family, style, size)
	d.pdf.MultiCell(d.width(), 7, d.tr(text), "", "L", true)
}
