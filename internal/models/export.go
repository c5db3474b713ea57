package models

import "time"

// ExportStatus is the lifecycle state of an export task.
type ExportStatus string

const (
	ExportStatusPending   ExportStatus = "pending"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusCompleted ExportStatus = "completed"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportFormat selects the document type produced by a batch export.
type ExportFormat string

const (
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatHTML ExportFormat = "html"
)

// ExportTask tracks one asynchronous batch export for polling clients.
type ExportTask struct {
	ID           string       `json:"id"`
	Format       ExportFormat `json:"format"`
	Status       ExportStatus `json:"status"`
	Message      string       `json:"message"`
	Progress     string       `json:"progress"` // "completed/total"
	Completed    int          `json:"completed"`
	Total        int          `json:"total"`
	ChartIDs     []string     `json:"chart_ids"`
	Pages        int          `json:"pages,omitempty"`
	Placeholders int          `json:"placeholders,omitempty"`
	Filename     string       `json:"filename,omitempty"`
	ArchiveKey   string       `json:"archive_key,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the task has finished.
func (t *ExportTask) IsTerminal() bool {
	return t.Status == ExportStatusCompleted || t.Status == ExportStatusFailed
}
