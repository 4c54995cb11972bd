package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docsign/internal/config"
	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/ports"
	"github.com/kirillkom/docsign/internal/core/usecase"
	"github.com/kirillkom/docsign/internal/observability/metrics"
)

const (
	serviceName          = "docsign-api"
	defaultMaxBodyBytes  = 32 << 20
	defaultInFlightWait  = 250 * time.Millisecond
	reportContentDefault = "application/octet-stream"
)

type Router struct {
	cfg     config.Config
	signer  ports.DocumentSigner
	locator ports.TagLocator
	batches ports.BatchReader
	reports ports.ReportRenderer
	metrics *metrics.HTTPServerMetrics
}

// NewRouter builds the HTTP surface. httpMetrics may be nil.
func NewRouter(
	cfg config.Config,
	signer ports.DocumentSigner,
	locator ports.TagLocator,
	batches ports.BatchReader,
	reports ports.ReportRenderer,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:     cfg,
		signer:  signer,
		locator: locator,
		batches: batches,
		reports: reports,
		metrics: httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/signing-requests", rt.signDocuments)
	api.HandleFunc("GET /v1/signing-rooms/{room_id}", rt.latestBatch)
	api.HandleFunc("GET /v1/signing-rooms/{room_id}/report.xlsx", rt.batchReport)
	api.HandleFunc("POST /v1/documents/locate", rt.locateTags)

	var guarded http.Handler = api
	if rt.cfg.APIMaxInFlight > 0 {
		guarded = backpressureMiddleware(guarded, rt.cfg.APIMaxInFlight, defaultInFlightWait, rt.rejected)
	}
	if rt.cfg.APIRateLimitRPS > 0 {
		guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.rejected)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) signDocuments(w http.ResponseWriter, r *http.Request) {
	body, err := rt.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req, err := usecase.DecodeSigningRequest(body)
	if err != nil {
		// The orchestrator still records and acknowledges the rejected batch.
		result := rt.signer.HandleMessage(r.Context(), body)
		writeJSON(w, http.StatusBadRequest, domain.NewAcknowledgment(result))
		return
	}

	result := rt.signer.Sign(r.Context(), req)
	writeJSON(w, http.StatusOK, domain.NewAcknowledgment(result))
}

func (rt *Router) latestBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := rt.batches.LatestBatch(r.Context(), r.PathValue("room_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (rt *Router) batchReport(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	batch, err := rt.batches.LatestBatch(r.Context(), roomID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := rt.reports.Render(&buf, *batch); err != nil {
		writeError(w, r, fmt.Errorf("render report: %w", err))
		return
	}

	contentType := rt.reports.ContentType()
	if contentType == "" {
		contentType = reportContentDefault
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reportFilename(roomID, batch.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type locateRequest struct {
	Path string   `json:"path"`
	Tags []string `json:"tags"`
}

type locateResponse struct {
	Path      string                          `json:"path"`
	Instances map[string][]domain.TagInstance `json:"instances"`
}

func (rt *Router) locateTags(w http.ResponseWriter, r *http.Request) {
	body, err := rt.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req locateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode locate request", err))
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode locate request", errors.New("path is required")))
		return
	}

	instances, err := rt.locator.LocateTags(r.Context(), req.Path, req.Tags)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if rt.metrics != nil {
		found := 0
		for _, hits := range instances {
			if len(hits) > 0 {
				found++
			}
		}
		rt.metrics.RecordTagLookups(serviceName, found, len(instances)-found)
	}
	writeJSON(w, http.StatusOK, locateResponse{Path: req.Path, Instances: instances})
}

func (rt *Router) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := rt.cfg.APIMaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, domain.WrapError(domain.ErrInvalidInput, "read request body", err)
	}
	return body, nil
}

func (rt *Router) rejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func reportFilename(roomID, batchID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, roomID)
	if len(batchID) > 8 {
		batchID = batchID[:8]
	}
	return clean + "-" + batchID + ".xlsx"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
