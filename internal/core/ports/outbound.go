package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docsign/internal/core/domain"
)

// Page is one page of an open document. Coordinates are top-left based points.
type Page interface {
	Index() int
	// Search returns the boxes of every literal occurrence of text in
	// content order. It reflects overlays already drawn on the page.
	Search(text string) ([]domain.BoundingBox, error)
	FillRect(box domain.BoundingBox, color domain.RGB) error
	InsertText(origin domain.Point, text string, style domain.TextStyle) error
	InsertImage(rect domain.BoundingBox, img domain.RasterImage) error
	TextWidth(text string, style domain.TextStyle) float64
}

// Document is exclusively owned by one substitution pass until Close.
type Document interface {
	PageCount() int
	Page(index int) (Page, error)
	Save(w io.Writer) error
	Close() error
}

// DocumentEngine parses raw document bytes.
type DocumentEngine interface {
	Open(data []byte) (Document, error)
}

// ObjectStorage stores source and signed documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ImageDecoder turns a transport-encoded signature into a raster image.
type ImageDecoder interface {
	Decode(payload string) (domain.RasterImage, error)
}

// BatchRepository persists batch outcomes.
type BatchRepository interface {
	SaveBatch(ctx context.Context, result domain.BatchResult) error
	LatestBatch(ctx context.Context, signingRoomID string) (*domain.BatchResult, error)
}

// MessageQueue consumes signing requests and publishes acknowledgments.
type MessageQueue interface {
	SubscribeSigningRequests(ctx context.Context, handler func(ctx context.Context, payload []byte) ([]byte, error)) error
	PublishAcknowledgment(ctx context.Context, payload []byte) error
}

// SigningObserver receives pass and batch events, typically for metrics.
type SigningObserver interface {
	TagApplied(kind string, instances int)
	TagMissing(kind string)
	DocumentFinished(status domain.DocumentStatus, seconds float64)
	BatchFinished(status domain.BatchStatus, seconds float64)
}

// ReportRenderer renders a batch as a downloadable report.
type ReportRenderer interface {
	ContentType() string
	Render(w io.Writer, batch domain.BatchResult) error
}
