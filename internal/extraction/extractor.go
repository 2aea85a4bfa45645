package extraction

import "context"

// Extractor defines the boundary to a vision-capable model. Extract submits
// a receipt image with the line-item prompt and returns the model's raw
// textual response. It never returns a half-parsed domain object; turning
// the response into items is the parser's job.
type Extractor interface {
	// Extract analyzes a receipt image and returns the raw model response.
	// Failures are classified as transient or permanent via *Error.
	Extract(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the extractor and releases resources.
	Close() error
}
