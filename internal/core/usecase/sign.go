package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/ports"
)

type SignOptions struct {
	SignedPrefix string
	// Concurrency > 1 signs independent documents of a batch in parallel.
	Concurrency int
}

type SignDocumentsUseCase struct {
	storage  ports.ObjectStorage
	engine   ports.DocumentEngine
	decoder  ports.ImageDecoder
	pass     *SubstitutionPass
	repo     ports.BatchRepository
	observer ports.SigningObserver
	logger   *slog.Logger
	options  SignOptions

	now   func() time.Time
	newID func() string
}

// NewSignDocumentsUseCase wires the orchestrator. repo and observer may be nil.
func NewSignDocumentsUseCase(
	storage ports.ObjectStorage,
	engine ports.DocumentEngine,
	decoder ports.ImageDecoder,
	pass *SubstitutionPass,
	repo ports.BatchRepository,
	observer ports.SigningObserver,
	logger *slog.Logger,
	options SignOptions,
) *SignDocumentsUseCase {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if options.SignedPrefix == "" {
		options.SignedPrefix = DefaultSignedPrefix
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	return &SignDocumentsUseCase{
		storage:  storage,
		engine:   engine,
		decoder:  decoder,
		pass:     pass,
		repo:     repo,
		observer: observer,
		logger:   logger,
		options:  options,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (uc *SignDocumentsUseCase) HandleMessage(ctx context.Context, payload []byte) domain.BatchResult {
	req, err := DecodeSigningRequest(payload)
	if err != nil {
		return uc.fail(ctx, req.SigningRoomID, err)
	}
	return uc.Sign(ctx, req)
}

func (uc *SignDocumentsUseCase) Sign(ctx context.Context, req domain.SigningRequest) domain.BatchResult {
	if err := ValidateSigningRequest(req); err != nil {
		return uc.fail(ctx, req.SigningRoomID, err)
	}

	start := time.Now()
	logger := uc.logger.With("signing_room_id", req.SigningRoomID)
	logger.Info("signing_request_started",
		"documents", len(req.SignedDocuments),
		"signers", len(req.Signers),
		"signature_tags", len(req.SignData),
	)

	images := uc.decodeSignatures(logger, req.SignData)
	outcomes := make([]domain.DocumentOutcome, len(req.SignedDocuments))

	if uc.options.Concurrency <= 1 {
		for i, doc := range req.SignedDocuments {
			outcomes[i] = uc.signDocument(ctx, logger, req, doc, images)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(uc.options.Concurrency)
		for i, doc := range req.SignedDocuments {
			g.Go(func() error {
				outcomes[i] = uc.signDocument(ctx, logger, req, doc, images)
				return nil
			})
		}
		_ = g.Wait()
	}

	result := domain.BatchResult{
		ID:            uc.newID(),
		SigningRoomID: req.SigningRoomID,
		Documents:     outcomes,
		Timestamp:     uc.now(),
		Status:        domain.AggregateStatus(outcomes),
	}
	uc.observer.BatchFinished(result.Status, time.Since(start).Seconds())
	uc.persist(ctx, logger, result)

	logger.Info("signing_request_finished",
		"batch_id", result.ID,
		"status", result.Status,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return result
}

func (uc *SignDocumentsUseCase) signDocument(
	ctx context.Context,
	logger *slog.Logger,
	req domain.SigningRequest,
	doc domain.DocumentRequest,
	images []domain.ImageSubstitution,
) domain.DocumentOutcome {
	start := time.Now()
	originalKey, signedKey := documentKeys(req, doc.Name, uc.options.SignedPrefix)
	logger = logger.With("document", doc.Name)

	outcome := domain.DocumentOutcome{
		Name:         doc.Name,
		OriginalPath: originalKey,
		SignedPath:   signedKey,
	}

	err := ctx.Err()
	if err == nil {
		err = uc.processDocument(ctx, logger, doc, originalKey, signedKey, images)
	}

	outcome.Timestamp = uc.now()
	if err != nil {
		outcome.Status = domain.DocumentFailed
		outcome.Error = err.Error()
		logger.Error("document_failed", "original_path", originalKey, "error", err)
	} else {
		outcome.Status = domain.DocumentCompleted
		logger.Info("document_signed", "original_path", originalKey, "signed_path", signedKey)
	}
	uc.observer.DocumentFinished(outcome.Status, time.Since(start).Seconds())
	return outcome
}

func (uc *SignDocumentsUseCase) processDocument(
	ctx context.Context,
	logger *slog.Logger,
	doc domain.DocumentRequest,
	originalKey, signedKey string,
	images []domain.ImageSubstitution,
) error {
	if strings.TrimSpace(doc.Name) == "" {
		return domain.WrapError(domain.ErrDocumentLoad, "resolve document", errors.New("document name is required"))
	}

	data, err := readDocument(ctx, uc.storage, originalKey)
	if err != nil {
		return err
	}
	pdf, err := uc.engine.Open(data)
	if err != nil {
		return domain.WrapError(domain.ErrDocumentLoad, "open document", err)
	}
	defer pdf.Close()

	report, err := uc.pass.Run(logger, pdf, textSubstitutions(doc.DocTags), images)
	if err != nil {
		return fmt.Errorf("substitute tags: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Save(&buf); err != nil {
		return domain.WrapError(domain.ErrDocumentSave, "serialize document", err)
	}
	if err := uc.storage.Save(ctx, signedKey, &buf); err != nil {
		return domain.WrapError(domain.ErrDocumentSave, "store signed document", err)
	}

	logger.Debug("substitution_pass_finished",
		"applied", len(report.Applied),
		"instances", report.Instances,
		"missing", len(report.Missing),
		"skipped", len(report.Skipped),
	)
	return nil
}

// decodeSignatures decodes each signature once per batch. Empty payloads are
// kept as empty images so the pass skips them.
func (uc *SignDocumentsUseCase) decodeSignatures(logger *slog.Logger, data domain.TagMap) []domain.ImageSubstitution {
	out := make([]domain.ImageSubstitution, 0, len(data))
	for _, entry := range data {
		sub := domain.ImageSubstitution{Tag: entry.Tag}
		if strings.TrimSpace(entry.Value) != "" {
			img, err := uc.decoder.Decode(entry.Value)
			if err != nil {
				sub.Err = domain.WrapError(domain.ErrImageDecode, "decode signature", err)
				logger.Warn("signature_decode_failed", "tag", entry.Tag, "error", err)
			} else {
				sub.Image = img
			}
		}
		out = append(out, sub)
	}
	return out
}

func (uc *SignDocumentsUseCase) fail(ctx context.Context, signingRoomID string, err error) domain.BatchResult {
	logger := uc.logger.With("signing_room_id", signingRoomID)
	logger.Error("signing_request_rejected", "error", err)

	result := domain.BatchResult{
		ID:            uc.newID(),
		SigningRoomID: signingRoomID,
		Documents:     []domain.DocumentOutcome{},
		Timestamp:     uc.now(),
		Status:        domain.BatchFailed,
	}
	uc.observer.BatchFinished(result.Status, 0)
	uc.persist(ctx, logger, result)
	return result
}

// persistTimeout bounds saving a batch once processing is over.
const persistTimeout = 10 * time.Second

// persist records the batch even when ctx has expired, since the outcomes
// of a timed-out batch are the ones most worth keeping.
func (uc *SignDocumentsUseCase) persist(ctx context.Context, logger *slog.Logger, result domain.BatchResult) {
	if uc.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := uc.repo.SaveBatch(ctx, result); err != nil {
		logger.Error("batch_persist_failed", "batch_id", result.ID, "error", err)
	}
}

func textSubstitutions(tags domain.TagMap) []domain.TextSubstitution {
	out := make([]domain.TextSubstitution, 0, len(tags))
	for _, entry := range tags {
		out = append(out, domain.TextSubstitution{Tag: entry.Tag, Value: entry.Value})
	}
	return out
}

type BatchQueryUseCase struct {
	repo ports.BatchRepository
}

func NewBatchQueryUseCase(repo ports.BatchRepository) *BatchQueryUseCase {
	return &BatchQueryUseCase{repo: repo}
}

func (uc *BatchQueryUseCase) LatestBatch(ctx context.Context, signingRoomID string) (*domain.BatchResult, error) {
	if strings.TrimSpace(signingRoomID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "latest batch", errors.New("signing room id is required"))
	}
	batch, err := uc.repo.LatestBatch(ctx, signingRoomID)
	if err != nil {
		return nil, fmt.Errorf("fetch latest batch: %w", err)
	}
	return batch, nil
}
