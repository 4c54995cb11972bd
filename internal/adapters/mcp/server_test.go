package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/usecase"
)

var fixedTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type signerFake struct {
	payloads []string
}

func (f *signerFake) HandleMessage(_ context.Context, payload []byte) domain.BatchResult {
	f.payloads = append(f.payloads, string(payload))
	req, err := usecase.DecodeSigningRequest(payload)
	if err != nil {
		return domain.BatchResult{SigningRoomID: req.SigningRoomID, Documents: []domain.DocumentOutcome{}, Timestamp: fixedTime, Status: domain.BatchFailed}
	}
	return f.Sign(context.Background(), req)
}

func (f *signerFake) Sign(_ context.Context, req domain.SigningRequest) domain.BatchResult {
	docs := make([]domain.DocumentOutcome, 0, len(req.SignedDocuments))
	for _, doc := range req.SignedDocuments {
		docs = append(docs, domain.DocumentOutcome{Name: doc.Name, Timestamp: fixedTime, Status: domain.DocumentCompleted})
	}
	return domain.BatchResult{SigningRoomID: req.SigningRoomID, Documents: docs, Timestamp: fixedTime, Status: domain.AggregateStatus(docs)}
}

type locatorFake struct {
	err error
}

func (f locatorFake) LocateTags(_ context.Context, _ string, tags []string) (map[string][]domain.TagInstance, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string][]domain.TagInstance{}
	for _, tag := range tags {
		out[tag] = []domain.TagInstance{{PageIndex: 1, Box: domain.BoundingBox{X0: 10, Y0: 20, X1: 30, Y1: 32}, Tag: tag}}
	}
	return out, nil
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) != 1 {
		t.Fatalf("expected one content item, got %+v", result)
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestSignDocumentsToolReturnsAcknowledgment(t *testing.T) {
	signer := &signerFake{}
	srv := NewServer(signer, locatorFake{}, nil)

	body := `{"signingRoomId":"R1","originalPath":"in","signedDocuments":[{"name":"a.pdf","docTags":{}}]}`
	result, err := srv.handleSign(context.Background(), callTool(ToolSignDocuments, map[string]any{"request": body}))
	if err != nil {
		t.Fatalf("handleSign() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var ack domain.Acknowledgment
	if err := json.Unmarshal([]byte(resultText(t, result)), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.SigningRoomID != "R1" || ack.Status != "completed" || len(ack.ProcessedDocuments) != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestSignDocumentsToolAcceptsInlineObject(t *testing.T) {
	signer := &signerFake{}
	srv := NewServer(signer, locatorFake{}, nil)

	args := map[string]any{"request": map[string]any{
		"signingRoomId":   "R2",
		"signedDocuments": []any{},
	}}
	result, err := srv.handleSign(context.Background(), callTool(ToolSignDocuments, args))
	if err != nil {
		t.Fatalf("handleSign() error = %v", err)
	}
	if !strings.Contains(resultText(t, result), `"signingRoomId":"R2"`) {
		t.Fatalf("expected room id in ack, got %s", resultText(t, result))
	}
}

func TestSignDocumentsToolKeepsTagOrderFromRawArguments(t *testing.T) {
	inline := `{"signingRoomId":"R7","signData":{"[[[Z_sign]]]":"c2ln","[[[A_sign]]]":"c2ln"},` +
		`"signedDocuments":[{"name":"a.pdf","docTags":{"[[[Date]]]":"2024-01-15","[[[Borr_name]]]":"Jane"}}]}`
	quoted, _ := json.Marshal(inline)

	for name, args := range map[string]string{
		"object": `{"request":` + inline + `}`,
		"string": `{"request":` + string(quoted) + `}`,
	} {
		t.Run(name, func(t *testing.T) {
			signer := &signerFake{}
			srv := NewServer(signer, locatorFake{}, nil)

			var req mcp.CallToolRequest
			req.Params.Name = ToolSignDocuments
			req.Params.Arguments = json.RawMessage(args)
			result, err := srv.handleSign(context.Background(), req)
			if err != nil {
				t.Fatalf("handleSign() error = %v", err)
			}
			if result.IsError || len(signer.payloads) != 1 {
				t.Fatalf("expected one signing call, got %s", resultText(t, result))
			}

			decoded, err := usecase.DecodeSigningRequest([]byte(signer.payloads[0]))
			if err != nil {
				t.Fatalf("decode forwarded request: %v", err)
			}
			if decoded.SignData[0].Tag != "[[[Z_sign]]]" || decoded.SignData[1].Tag != "[[[A_sign]]]" {
				t.Fatalf("signData order changed: %+v", decoded.SignData)
			}
			tags := decoded.SignedDocuments[0].DocTags
			if tags[0].Tag != "[[[Date]]]" || tags[1].Tag != "[[[Borr_name]]]" {
				t.Fatalf("docTags order changed: %+v", tags)
			}
		})
	}
}

func TestSignDocumentsToolRejectsMissingRawRequest(t *testing.T) {
	srv := NewServer(&signerFake{}, locatorFake{}, nil)
	var req mcp.CallToolRequest
	req.Params.Name = ToolSignDocuments
	req.Params.Arguments = json.RawMessage(`{"other":1}`)
	result, err := srv.handleSign(context.Background(), req)
	if err != nil {
		t.Fatalf("handleSign() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error for missing request")
	}
}

func TestSignDocumentsToolReportsMalformedAsFailedAck(t *testing.T) {
	srv := NewServer(&signerFake{}, locatorFake{}, nil)

	result, err := srv.handleSign(context.Background(), callTool(ToolSignDocuments, map[string]any{"request": `{"signingRoomId":"R3"}`}))
	if err != nil {
		t.Fatalf("handleSign() error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, `"status":"failed"`) || !strings.Contains(text, `"processedDocuments":[]`) {
		t.Fatalf("expected failed ack, got %s", text)
	}

	result, err = srv.handleSign(context.Background(), callTool(ToolSignDocuments, map[string]any{}))
	if err != nil {
		t.Fatalf("handleSign() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error for missing argument")
	}
}

func TestLocateTagsTool(t *testing.T) {
	srv := NewServer(&signerFake{}, locatorFake{}, nil)

	result, err := srv.handleLocate(context.Background(), callTool(ToolLocateTags, map[string]any{
		"path": "in/a.pdf",
		"tags": []any{"{{name}}"},
	}))
	if err != nil {
		t.Fatalf("handleLocate() error = %v", err)
	}
	var resp struct {
		Path      string                          `json:"path"`
		Instances map[string][]domain.TagInstance `json:"instances"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Path != "in/a.pdf" || len(resp.Instances["{{name}}"]) != 1 || resp.Instances["{{name}}"][0].PageIndex != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestLocateTagsToolErrors(t *testing.T) {
	srv := NewServer(&signerFake{}, locatorFake{err: errors.New("document load failure")}, nil)

	for name, args := range map[string]map[string]any{
		"missing path":   {"tags": []any{"{{a}}"}},
		"missing tags":   {"path": "a.pdf"},
		"locator failed": {"path": "a.pdf", "tags": []any{"{{a}}"}},
	} {
		result, err := srv.handleLocate(context.Background(), callTool(ToolLocateTags, args))
		if err != nil {
			t.Fatalf("%s: handleLocate() error = %v", name, err)
		}
		if !result.IsError {
			t.Fatalf("%s: expected tool error", name)
		}
	}
}
