package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/ports"
)

// Locate returns every occurrence of tag across the document, pages in
// ascending order. An absent tag yields no instances and no error.
func Locate(doc ports.Document, tag string) ([]domain.TagInstance, error) {
	if tag == "" {
		return nil, nil
	}
	var out []domain.TagInstance
	for i := 0; i < doc.PageCount(); i++ {
		page, err := doc.Page(i)
		if err != nil {
			return nil, fmt.Errorf("open page %d: %w", i, err)
		}
		boxes, err := page.Search(tag)
		if err != nil {
			return nil, fmt.Errorf("search page %d: %w", i, err)
		}
		for _, box := range boxes {
			out = append(out, domain.TagInstance{PageIndex: i, Box: box, Tag: tag})
		}
	}
	return out, nil
}

type LocateTagsUseCase struct {
	storage ports.ObjectStorage
	engine  ports.DocumentEngine
	logger  *slog.Logger
}

func NewLocateTagsUseCase(storage ports.ObjectStorage, engine ports.DocumentEngine, logger *slog.Logger) *LocateTagsUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocateTagsUseCase{storage: storage, engine: engine, logger: logger}
}

func (uc *LocateTagsUseCase) LocateTags(ctx context.Context, key string, tags []string) (map[string][]domain.TagInstance, error) {
	if len(tags) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "locate tags", fmt.Errorf("at least one tag is required"))
	}

	data, err := readDocument(ctx, uc.storage, key)
	if err != nil {
		return nil, err
	}
	doc, err := uc.engine.Open(data)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDocumentLoad, "open document", err)
	}
	defer doc.Close()

	out := make(map[string][]domain.TagInstance, len(tags))
	for _, tag := range tags {
		instances, err := Locate(doc, tag)
		if err != nil {
			return nil, domain.WrapError(domain.ErrDocumentLoad, "locate tag", err)
		}
		if instances == nil {
			instances = []domain.TagInstance{}
		}
		out[tag] = instances
	}
	uc.logger.Info("tags_located", "key", key, "tags", len(tags))
	return out, nil
}

func readDocument(ctx context.Context, storage ports.ObjectStorage, key string) ([]byte, error) {
	reader, err := storage.Open(ctx, key)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDocumentLoad, "open source document", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDocumentLoad, "read source document", err)
	}
	return data, nil
}
