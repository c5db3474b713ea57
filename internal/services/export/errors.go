package export

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToRender is returned when no input chart carries a figure.
	ErrNothingToRender = errors.New("no chart has a rendered figure")

	// ErrRenderTimeout marks images abandoned when the batch deadline passed.
	ErrRenderTimeout = errors.New("render timed out")

	errNoFigure = errors.New("chart has no rendered figure")
)

// RenderError is one chart that could not be rasterized. It becomes a
// placeholder page; the export itself still succeeds.
type RenderError struct {
	ChartID string
	Name    string
	Cause   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render chart %s (%s): %v", e.ChartID, e.Name, e.Cause)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}
