package common

import (
	"github.com/google/uuid"
)

// NewChartID generates a unique chart ID with the "chart_" prefix
// Format: chart_<uuid>
func NewChartID() string {
	return "chart_" + uuid.New().String()
}

// NewExportID generates a unique export task ID with the "export_" prefix
func NewExportID() string {
	return "export_" + uuid.New().String()
}
