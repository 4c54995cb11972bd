package mcpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docsign/internal/core/ports"
	"github.com/kirillkom/docsign/internal/core/usecase"
)

const (
	ToolSignDocuments = "sign_documents"
	ToolLocateTags    = "locate_tags"
)

// Server exposes signing and tag lookup as MCP tools.
type Server struct {
	signer  ports.DocumentSigner
	locator ports.TagLocator
	logger  *slog.Logger
}

func NewServer(signer ports.DocumentSigner, locator ports.TagLocator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{signer: signer, locator: locator, logger: logger}
}

func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"docsign",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool(ToolSignDocuments,
		mcp.WithDescription("Replace tags in stored PDF documents with text values and signature images. Returns the signing acknowledgment."),
		mcp.WithString("request",
			mcp.Required(),
			mcp.Description("Signing request JSON text with signingRoomId, originalPath, signedPath, docTags, signData, signers and signedDocuments. Tags are applied in the order they are declared."),
		),
	), s.handleSign)

	srv.AddTool(mcp.NewTool(ToolLocateTags,
		mcp.WithDescription("Find every occurrence of the given tags in a stored PDF document."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Storage key of the document."),
		),
		mcp.WithArray("tags",
			mcp.Required(),
			mcp.Description("Literal tag strings to search for."),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleLocate)

	return srv
}

func (s *Server) handleSign(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := s.requestPayload(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.signer.HandleMessage(ctx, payload)
	ack, err := usecase.EncodeAcknowledgment(result)
	if err != nil {
		return nil, err
	}
	s.logger.Info("mcp_sign_documents", "signing_room_id", result.SigningRoomID, "status", result.Status, "documents", len(result.Documents))
	return mcp.NewToolResultText(string(ack)), nil
}

func (s *Server) handleLocate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, err := request.RequireStringSlice("tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	instances, err := s.locator.LocateTags(ctx, path, tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := json.Marshal(map[string]any{"path": path, "instances": instances})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// requestPayload accepts the signing request either as a JSON string or as
// an inline object. Raw JSON arguments keep their bytes, so docTags and
// signData keep declaration order. Objects decoded into maps have lost it.
func (s *Server) requestPayload(request mcp.CallToolRequest) ([]byte, error) {
	if raw, ok := request.Params.Arguments.(json.RawMessage); ok {
		var args map[string]json.RawMessage
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		return rawRequest(args["request"])
	}

	arg, ok := request.GetArguments()["request"]
	if !ok || arg == nil {
		return nil, errMissingRequest
	}
	switch v := arg.(type) {
	case string:
		return []byte(v), nil
	case map[string]any:
		if tagOrderLost(v) {
			s.logger.Warn("mcp_request_tag_order_lost",
				"hint", "pass request as a JSON string to keep tag declaration order")
		}
		return json.Marshal(v)
	default:
		return nil, errRequestType
	}
}

var (
	errMissingRequest = errors.New("required argument \"request\" not found")
	errRequestType    = errors.New("argument \"request\" must be a JSON string or object")
)

func rawRequest(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return nil, errMissingRequest
	case trimmed[0] == '{':
		return trimmed, nil
	case trimmed[0] == '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return []byte(text), nil
	default:
		return nil, errRequestType
	}
}

// tagOrderLost reports whether a decoded request has a tag map whose
// declaration order can no longer be recovered.
func tagOrderLost(req map[string]any) bool {
	if multiEntry(req["signData"]) {
		return true
	}
	docs, _ := req["signedDocuments"].([]any)
	for _, doc := range docs {
		if d, ok := doc.(map[string]any); ok && multiEntry(d["docTags"]) {
			return true
		}
	}
	return false
}

func multiEntry(v any) bool {
	m, ok := v.(map[string]any)
	return ok && len(m) > 1
}
