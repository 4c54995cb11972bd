package usecase

import (
	"encoding/json"
	"errors"
	"path"
	"strings"

	"github.com/kirillkom/docsign/internal/core/domain"
)

const DefaultSignedPrefix = "signed_"

// DecodeSigningRequest parses a raw message. On failure the returned request
// still carries the signing room id when it could be read.
func DecodeSigningRequest(payload []byte) (domain.SigningRequest, error) {
	var req domain.SigningRequest

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return req, domain.WrapError(domain.ErrRequestMalformed, "decode signing request", err)
	}
	var roomID string
	if raw, ok := fields["signingRoomId"]; ok {
		_ = json.Unmarshal(raw, &roomID)
	}

	if err := json.Unmarshal(payload, &req); err != nil {
		return domain.SigningRequest{SigningRoomID: roomID}, domain.WrapError(domain.ErrRequestMalformed, "decode signing request", err)
	}
	if err := ValidateSigningRequest(req); err != nil {
		return domain.SigningRequest{SigningRoomID: roomID}, err
	}
	return req, nil
}

func ValidateSigningRequest(req domain.SigningRequest) error {
	if req.SignedDocuments == nil {
		return domain.WrapError(domain.ErrRequestMalformed, "validate signing request", errors.New("signedDocuments is required"))
	}
	return nil
}

// documentKeys builds storage keys for the source and the signed copy.
// Leading slashes are dropped so keys stay relative to the storage root.
func documentKeys(req domain.SigningRequest, name, prefix string) (string, string) {
	original := path.Join(strings.TrimLeft(req.OriginalPath, "/"), name)
	signed := path.Join(strings.TrimLeft(req.DestinationPath(), "/"), prefix+name)
	return original, signed
}

// EncodeAcknowledgment renders the outbound message for result.
func EncodeAcknowledgment(result domain.BatchResult) ([]byte, error) {
	return json.Marshal(domain.NewAcknowledgment(result))
}
