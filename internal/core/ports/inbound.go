package ports

import (
	"context"

	"github.com/kirillkom/docsign/internal/core/domain"
)

// DocumentSigner is the inbound contract for signing request orchestration.
type DocumentSigner interface {
	// HandleMessage decodes and processes a raw request. It never fails; a
	// malformed payload yields a failed BatchResult.
	HandleMessage(ctx context.Context, payload []byte) domain.BatchResult
	Sign(ctx context.Context, req domain.SigningRequest) domain.BatchResult
}

// TagLocator is the inbound contract for locate-only lookups on stored documents.
type TagLocator interface {
	LocateTags(ctx context.Context, key string, tags []string) (map[string][]domain.TagInstance, error)
}

// BatchReader is the inbound read model for persisted signing batches.
type BatchReader interface {
	LatestBatch(ctx context.Context, signingRoomID string) (*domain.BatchResult, error)
}
