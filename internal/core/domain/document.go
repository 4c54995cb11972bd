package domain

import "time"

type DocumentStatus string

const (
	DocumentCompleted DocumentStatus = "completed"
	DocumentFailed    DocumentStatus = "failed"
)

type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
)

// TimestampLayout renders UTC instants as ISO-8601 with microseconds and a Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

type DocumentOutcome struct {
	Name         string         `json:"name"`
	OriginalPath string         `json:"original_path"`
	SignedPath   string         `json:"signed_path"`
	Timestamp    time.Time      `json:"timestamp"`
	Status       DocumentStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
}

type BatchResult struct {
	ID            string            `json:"id"`
	SigningRoomID string            `json:"signing_room_id"`
	Documents     []DocumentOutcome `json:"documents"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        BatchStatus       `json:"status"`
}

// AggregateStatus is completed only when every document completed.
func AggregateStatus(docs []DocumentOutcome) BatchStatus {
	for _, doc := range docs {
		if doc.Status != DocumentCompleted {
			return BatchPartial
		}
	}
	return BatchCompleted
}

type ProcessedDocument struct {
	Name         string `json:"name"`
	OriginalPath string `json:"original_path"`
	SignedPath   string `json:"signed_path"`
	Timestamp    string `json:"timestamp"`
	Status       string `json:"status"`
}

// Acknowledgment is the outbound message answering a SigningRequest.
type Acknowledgment struct {
	SigningRoomID      string              `json:"signingRoomId"`
	ProcessedDocuments []ProcessedDocument `json:"processedDocuments"`
	Timestamp          string              `json:"timestamp"`
	Status             string              `json:"status"`
}

func NewAcknowledgment(result BatchResult) Acknowledgment {
	docs := make([]ProcessedDocument, 0, len(result.Documents))
	for _, doc := range result.Documents {
		docs = append(docs, ProcessedDocument{
			Name:         doc.Name,
			OriginalPath: doc.OriginalPath,
			SignedPath:   doc.SignedPath,
			Timestamp:    FormatTimestamp(doc.Timestamp),
			Status:       string(doc.Status),
		})
	}
	return Acknowledgment{
		SigningRoomID:      result.SigningRoomID,
		ProcessedDocuments: docs,
		Timestamp:          FormatTimestamp(result.Timestamp),
		Status:             string(result.Status),
	}
}
