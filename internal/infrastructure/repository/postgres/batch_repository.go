package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/infrastructure/resilience"
)

// BatchRepository stores the outcome of every signing request: one row per
// batch and one row per document, in request order.
type BatchRepository struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewBatchRepository(db *sql.DB, executor *resilience.Executor) *BatchRepository {
	return &BatchRepository{db: db, executor: executor}
}

func (r *BatchRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2024011501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS signing_batches (
	id TEXT PRIMARY KEY,
	signing_room_id TEXT NOT NULL,
	status TEXT NOT NULL,
	document_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signing_batches_room ON signing_batches(signing_room_id, created_at DESC);

CREATE TABLE IF NOT EXISTS signing_documents (
	batch_id TEXT NOT NULL REFERENCES signing_batches(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	original_path TEXT NOT NULL,
	signed_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, position)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) SaveBatch(ctx context.Context, batch domain.BatchResult) error {
	if batch.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save batch", errors.New("batch id is required"))
	}
	call := func(ctx context.Context) error {
		return r.saveBatch(ctx, batch)
	}
	if r.executor == nil {
		return call(ctx)
	}
	return r.executor.Execute(ctx, "postgres.save_batch", call, classifyPGError)
}

func (r *BatchRepository) saveBatch(ctx context.Context, batch domain.BatchResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return markTemporary("begin batch tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO signing_batches (id, signing_room_id, status, document_count, created_at)
VALUES ($1,$2,$3,$4,$5)
`, batch.ID, batch.SigningRoomID, string(batch.Status), len(batch.Documents), batch.Timestamp.UTC())
	if err != nil {
		return markTemporary("insert batch", err)
	}

	for i, doc := range batch.Documents {
		_, err := tx.ExecContext(ctx, `
INSERT INTO signing_documents (batch_id, position, name, original_path, signed_path, status, error_message, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, batch.ID, i, doc.Name, doc.OriginalPath, doc.SignedPath, string(doc.Status), doc.Error, doc.Timestamp.UTC())
		if err != nil {
			return markTemporary(fmt.Sprintf("insert document %d", i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return markTemporary("commit batch tx", err)
	}
	return nil
}

func (r *BatchRepository) LatestBatch(ctx context.Context, signingRoomID string) (*domain.BatchResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, signing_room_id, status, created_at
FROM signing_batches
WHERE signing_room_id = $1
ORDER BY created_at DESC
LIMIT 1
`, signingRoomID)

	var batch domain.BatchResult
	var status string
	if err := row.Scan(&batch.ID, &batch.SigningRoomID, &status, &batch.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get latest batch", fmt.Errorf("signing room %s", signingRoomID))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	batch.Status = domain.BatchStatus(status)

	rows, err := r.db.QueryContext(ctx, `
SELECT name, original_path, signed_path, status, error_message, processed_at
FROM signing_documents
WHERE batch_id = $1
ORDER BY position ASC
`, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("query batch documents: %w", err)
	}
	defer rows.Close()

	batch.Documents = []domain.DocumentOutcome{}
	for rows.Next() {
		var doc domain.DocumentOutcome
		var docStatus string
		if err := rows.Scan(&doc.Name, &doc.OriginalPath, &doc.SignedPath, &docStatus, &doc.Error, &doc.Timestamp); err != nil {
			return nil, fmt.Errorf("scan batch document: %w", err)
		}
		doc.Status = domain.DocumentStatus(docStatus)
		batch.Documents = append(batch.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch documents: %w", err)
	}
	return &batch, nil
}

// Connection failures, serialization conflicts and server shutdowns are
// worth retrying; everything else is a permanent error.
func isTransientPGError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func markTemporary(op string, err error) error {
	if isTransientPGError(err) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func classifyPGError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{
		Retryable:     domain.IsKind(err, domain.ErrTemporary),
		RecordFailure: true,
	}
}
