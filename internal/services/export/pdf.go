package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	pageMargin = 10.0
	footerH    = 8.0
)

// buildPDF lays out one landscape A4 page per chart in input order.
func buildPDF(title string, pages []page, report *progress) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("Investment-X", true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, pageH := pdf.GetPageSize()
	contentW := pageW - 2*pageMargin

	for i, p := range pages {
		pdf.AddPage()

		name := chartName(p, i)
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetTextColor(20, 20, 20)
		pdf.CellFormat(contentW, 8, tr(name), "", 1, "L", false, 0, "")

		if p.chart != nil && strings.TrimSpace(p.chart.Description) != "" {
			pdf.SetTextColor(80, 80, 80)
			newMarkdownWriter(pdf, tr, pageMargin).write(p.chart.Description)
			pdf.SetTextColor(20, 20, 20)
		}
		pdf.Ln(2)

		top := pdf.GetY()
		areaH := pageH - pageMargin - footerH - top

		if p.err == nil {
			drawImage(pdf, fmt.Sprintf("chart-%d", i), p.png, pageMargin, top, contentW, areaH)
		} else {
			drawPlaceholder(pdf, tr, p.err, pageMargin, top, contentW, areaH)
		}

		pdf.SetXY(pageMargin, pageH-pageMargin-footerH+2)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(contentW/2, 5, tr(footerLeft(p)), "", 0, "L", false, 0, "")
		pdf.CellFormat(contentW/2, 5, fmt.Sprintf("%d / %d", i+1, len(pages)), "", 0, "R", false, 0, "")
		pdf.SetTextColor(20, 20, 20)

		if err := pdf.Error(); err != nil {
			return nil, err
		}
		report.step("page " + name)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawImage scales the image to fit the box, keeping its aspect ratio.
func drawImage(pdf *fpdf.Fpdf, name string, img []byte, x, y, w, h float64) {
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img))
	if info == nil || info.Width() == 0 || info.Height() == 0 {
		return
	}
	scale := w / info.Width()
	if s := h / info.Height(); s < scale {
		scale = s
	}
	drawW, drawH := info.Width()*scale, info.Height()*scale
	pdf.ImageOptions(name, x+(w-drawW)/2, y+(h-drawH)/2, drawW, drawH, false, opts, 0, "")
}

func drawPlaceholder(pdf *fpdf.Fpdf, tr func(string) string, cause error, x, y, w, h float64) {
	pdf.SetDrawColor(200, 200, 200)
	pdf.SetFillColor(248, 248, 248)
	pdf.Rect(x, y, w, h, "FD")

	pdf.SetXY(x, y+h/2-10)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(150, 40, 40)
	pdf.CellFormat(w, 10, placeholderTitle, "", 1, "C", false, 0, "")

	pdf.SetX(x + 10)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(w-20, 5, tr(placeholderReason(cause)), "", "C", false)

	pdf.SetTextColor(20, 20, 20)
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetFillColor(255, 255, 255)
}

func chartName(p page, i int) string {
	if p.chart != nil && p.chart.Name != "" {
		return p.chart.Name
	}
	return fmt.Sprintf("Chart %d", i+1)
}

func footerLeft(p page) string {
	if p.chart == nil {
		return ""
	}
	parts := []string{}
	if p.chart.Category != "" {
		parts = append(parts, p.chart.Category)
	}
	if !p.chart.UpdatedAt.IsZero() {
		parts = append(parts, "updated "+p.chart.UpdatedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return strings.Join(parts, " | ")
}

// placeholderReason is the cause without the chart prefix of RenderError.
func placeholderReason(err error) string {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Cause.Error()
	}
	return err.Error()
}
