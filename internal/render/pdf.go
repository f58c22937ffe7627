package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/KaramelBytes/mpie/internal/utils"
	"github.com/go-pdf/fpdf"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

// PDFOptions controls the text report layout.
type PDFOptions struct {
	// WrapWidth is the maximum characters per line; longer words are split.
	WrapWidth int
	FontSize  float64
	// Compress toggles stream compression. Tests turn it off to inspect text.
	Compress bool
}

// DefaultPDFOptions matches the report layout used by the web UI.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{WrapWidth: 95, FontSize: 11, Compress: true}
}

// pdfReplacer maps glyphs outside the core fonts' code page to ASCII.
// Everything else in the report is kept as printed.
var pdfReplacer = strings.NewReplacer(
	"→", "->",
	"🔍", "",
	"❌", "",
)

// WrapText hard-wraps text to width columns, preserving explicit newlines.
func WrapText(text string, width int) []string {
	if width <= 0 {
		width = DefaultPDFOptions().WrapWidth
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	wrapped := wrap.String(wordwrap.String(text, width), width)
	return strings.Split(strings.TrimRight(wrapped, "\n"), "\n")
}

// WriteTextPDF lays text out on Letter pages (pagination is automatic) and
// writes the document to w.
func WriteTextPDF(w io.Writer, text string, opts PDFOptions) error {
	if opts.FontSize <= 0 {
		opts.FontSize = DefaultPDFOptions().FontSize
	}
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetCompression(opts.Compress)
	pdf.SetMargins(40, 40, 40)
	pdf.SetAutoPageBreak(true, 40)
	pdf.SetTitle("Pattern analysis report", true)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", opts.FontSize)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	lineHeight := opts.FontSize * 1.35

	for _, line := range WrapText(pdfReplacer.Replace(text), opts.WrapWidth) {
		pdf.CellFormat(0, lineHeight, tr(line), "", 1, "L", false, 0, "")
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("layout pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// WritePDFFile writes the report to path atomically.
func WritePDFFile(path, text string, opts PDFOptions) error {
	return utils.SafeWrite(path, func(w io.Writer) error {
		return WriteTextPDF(w, text, opts)
	})
}
