package interfaces

import (
	"context"
	"encoding/json"
)

// RenderOptions sizes a raster render
type RenderOptions struct {
	Width  int
	Height int
	Scale  float64
}

// ImageRenderer converts a normalized figure to PNG bytes
type ImageRenderer interface {
	RenderPNG(ctx context.Context, figure json.RawMessage, opts RenderOptions) ([]byte, error)
}

// DocumentArchive stores finished export documents outside the process
type DocumentArchive interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}
