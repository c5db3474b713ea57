package export

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// InspectPDF validates a generated document and returns its page count.
func InspectPDF(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	return count, nil
}

// verifyPDF checks the assembled document has exactly one page per chart.
func verifyPDF(data []byte, want int) (int, error) {
	count, err := InspectPDF(data)
	if err != nil {
		return 0, err
	}
	if count != want {
		return count, fmt.Errorf("document has %d pages, expected %d", count, want)
	}
	return count, nil
}
