// Package insight is the HTTP front door for the video summary and channel
// analysis endpoints consumed by the web frontend.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/insight-gateway/internal/domain"
	"github.com/tjfontaine/insight-gateway/internal/server"
	"github.com/tjfontaine/insight-gateway/internal/storage"
	"github.com/tjfontaine/insight-gateway/internal/tokens"
)

// maxBodyBytes bounds request bodies; they only carry a URL.
const maxBodyBytes = 64 << 10

// Service is what the handlers need from the orchestration layer.
type Service interface {
	Run(ctx context.Context, kind domain.PipelineKind, inputURL string) (*domain.Result, error)
	Status(ctx context.Context, handle domain.RunHandle) (*domain.RunStatus, error)
	Runs(ctx context.Context, limit int) ([]*storage.RunRecord, error)
}

// Handler serves the summary, analysis, status and run history endpoints.
type Handler struct {
	service Service
	counter tokens.Counter
	logger  *slog.Logger
}

// NewHandler creates a Handler. A nil counter falls back to the estimator.
func NewHandler(service Service, counter tokens.Counter, logger *slog.Logger) *Handler {
	if counter == nil {
		counter = tokens.NewEstimator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, counter: counter, logger: logger}
}

// Routes mounts the API and the liveness endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/video/summarize", h.HandleVideoSummarize)
		r.Get("/video/status/{job_id}", h.HandleStatus)
		r.Post("/channel/analyze", h.HandleChannelAnalyze)
		r.Get("/channel/status/{job_id}", h.HandleStatus)
		r.Get("/runs", h.HandleRuns)
	})
}

type urlRequest struct {
	URL string `json:"url"`
}

// Metadata is the response metadata: the run's own metadata plus the size
// of the returned content.
type Metadata struct {
	domain.ResultMetadata
	ContentTokens          int  `json:"content_tokens"`
	ContentTokensEstimated bool `json:"content_tokens_estimated,omitempty"`
}

// VideoSummaryResponse is the body of a successful video summary.
type VideoSummaryResponse struct {
	URL      string   `json:"url"`
	Summary  string   `json:"summary"`
	Metadata Metadata `json:"metadata"`
}

// ChannelAnalysisResponse is the body of a successful channel analysis.
type ChannelAnalysisResponse struct {
	URL         string   `json:"url"`
	Analysis    string   `json:"analysis"`
	ContentGaps []string `json:"content_gaps"`
	Metadata    Metadata `json:"metadata"`
}

// StatusResponse wraps a single run snapshot.
type StatusResponse struct {
	JobID  string            `json:"job_id"`
	Status *domain.RunStatus `json:"status"`
}

// RunsResponse lists recent journal entries, newest first.
type RunsResponse struct {
	Runs []*storage.RunRecord `json:"runs"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// HandleRoot confirms the API is up.
func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Insight API is running"})
}

// HandleHealth is the liveness probe.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleVideoSummarize runs the video pipeline and waits for its summary.
func (h *Handler) HandleVideoSummarize(w http.ResponseWriter, r *http.Request) {
	inputURL, ok := h.decodeURL(w, r)
	if !ok {
		return
	}

	result, err := h.run(r, domain.PipelineVideo, inputURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, VideoSummaryResponse{
		URL:      inputURL,
		Summary:  result.Content,
		Metadata: h.metadata(result),
	})
}

// HandleChannelAnalyze runs the channel pipeline and waits for its analysis.
func (h *Handler) HandleChannelAnalyze(w http.ResponseWriter, r *http.Request) {
	inputURL, ok := h.decodeURL(w, r)
	if !ok {
		return
	}

	result, err := h.run(r, domain.PipelineChannel, inputURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ChannelAnalysisResponse{
		URL:         inputURL,
		Analysis:    result.Content,
		ContentGaps: []string{},
		Metadata:    h.metadata(result),
	})
}

// HandleStatus reports a single snapshot of a run. It never waits.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	server.AddLogField(r.Context(), "run_id", jobID)

	status, err := h.service.Status(r.Context(), domain.RunHandle(jobID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{JobID: jobID, Status: status})
}

// HandleRuns lists recent runs from the journal.
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.service.Runs(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func (h *Handler) run(r *http.Request, kind domain.PipelineKind, inputURL string) (*domain.Result, error) {
	server.AddLogField(r.Context(), "kind", string(kind))
	result, err := h.service.Run(r.Context(), kind, inputURL)
	if result != nil {
		server.AddLogField(r.Context(), "run_id", string(result.Metadata.RunHandle))
	}
	return result, err
}

func (h *Handler) decodeURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req urlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body: " + err.Error()})
		return "", false
	}
	inputURL := strings.TrimSpace(req.URL)
	if inputURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "url is required"})
		return "", false
	}
	return inputURL, true
}

func (h *Handler) metadata(result *domain.Result) Metadata {
	count := h.counter.CountText(result.Content)
	return Metadata{
		ResultMetadata:         result.Metadata,
		ContentTokens:          count.Tokens,
		ContentTokensEstimated: count.Estimated,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)
	var derr *domain.Error
	if errors.As(err, &derr) {
		server.AddLogField(r.Context(), "error_kind", string(derr.Kind))
		server.AddLogField(r.Context(), "run_id", string(derr.RunHandle))
	}

	code := statusCode(err)
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// The caller is gone; the write below is best effort.
		h.logger.InfoContext(r.Context(), "client closed request",
			slog.String("request_id", server.GetRequestID(r.Context())),
		)
	}
	writeJSON(w, code, errorResponse{Detail: err.Error()})
}

// statusCode maps an error onto the HTTP status returned to the frontend.
func statusCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindRemoteSubmission, domain.KindRemoteStatus, domain.KindPipelineFailed:
		return http.StatusBadGateway
	case domain.KindPollTimeout:
		return http.StatusGatewayTimeout
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
