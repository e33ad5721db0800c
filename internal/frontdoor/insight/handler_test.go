package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/insight-gateway/internal/domain"
	"github.com/tjfontaine/insight-gateway/internal/server"
	"github.com/tjfontaine/insight-gateway/internal/storage"
	"github.com/tjfontaine/insight-gateway/internal/tokens"
)

type mockService struct {
	result    *domain.Result
	runErr    error
	status    *domain.RunStatus
	statusErr error
	runs      []*storage.RunRecord

	gotKind   domain.PipelineKind
	gotURL    string
	gotHandle domain.RunHandle
	gotLimit  int
	runCalls  int
}

func (m *mockService) Run(ctx context.Context, kind domain.PipelineKind, inputURL string) (*domain.Result, error) {
	m.runCalls++
	m.gotKind = kind
	m.gotURL = inputURL
	return m.result, m.runErr
}

func (m *mockService) Status(ctx context.Context, handle domain.RunHandle) (*domain.RunStatus, error) {
	m.gotHandle = handle
	return m.status, m.statusErr
}

func (m *mockService) Runs(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	m.gotLimit = limit
	return m.runs, nil
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(svc, tokens.NewEstimator(), nil).Routes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func doneResult(content string) *domain.Result {
	cost := 12.5
	return &domain.Result{
		Content: content,
		Metadata: domain.ResultMetadata{
			RunHandle:  "run-1",
			State:      domain.RunStateDone,
			FinishedAt: json.RawMessage(`"2024-05-01T10:01:00Z"`),
			Cost:       &cost,
		},
	}
}

func TestRootAndHealth(t *testing.T) {
	h := newRouter(&mockService{})

	rec := doRequest(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["message"]; got != "Insight API is running" {
		t.Errorf("message = %q", got)
	}

	rec = doRequest(t, h, http.MethodGet, "/health", "")
	if got := decode[map[string]string](t, rec)["status"]; got != "healthy" {
		t.Errorf("status = %q", got)
	}
}

func TestHandleVideoSummarize(t *testing.T) {
	svc := &mockService{result: doneResult("abcdefgh")}
	h := newRouter(svc)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/video/summarize", `{"url":" https://youtu.be/abc "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.gotKind != domain.PipelineVideo {
		t.Errorf("kind = %v, want video", svc.gotKind)
	}
	if svc.gotURL != "https://youtu.be/abc" {
		t.Errorf("url = %q, want trimmed url", svc.gotURL)
	}

	body := decode[map[string]any](t, rec)
	if body["summary"] != "abcdefgh" {
		t.Errorf("summary = %v", body["summary"])
	}
	if body["url"] != "https://youtu.be/abc" {
		t.Errorf("url = %v", body["url"])
	}
	meta, ok := body["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata missing: %s", rec.Body.String())
	}
	if meta["run_id"] != "run-1" || meta["state"] != "DONE" {
		t.Errorf("metadata = %v", meta)
	}
	if meta["finished_ts"] != "2024-05-01T10:01:00Z" || meta["credit_cost"] != 12.5 {
		t.Errorf("metadata passthrough = %v", meta)
	}
	if meta["content_tokens"] != float64(2) {
		t.Errorf("content_tokens = %v, want 2", meta["content_tokens"])
	}
}

func TestHandleChannelAnalyze(t *testing.T) {
	svc := &mockService{result: doneResult(domain.PlaceholderContent)}
	h := newRouter(svc)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/channel/analyze", `{"url":"https://youtube.com/@chan"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.gotKind != domain.PipelineChannel {
		t.Errorf("kind = %v, want channel", svc.gotKind)
	}

	body := decode[map[string]any](t, rec)
	if body["analysis"] != domain.PlaceholderContent {
		t.Errorf("analysis = %v", body["analysis"])
	}
	gaps, ok := body["content_gaps"].([]any)
	if !ok || len(gaps) != 0 {
		t.Errorf("content_gaps = %v, want empty list", body["content_gaps"])
	}
}

func TestHandleSummarize_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"url":`},
		{"missing url", `{}`},
		{"blank url", `{"url":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			rec := doRequest(t, newRouter(svc), http.MethodPost, "/api/v1/video/summarize", tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if decode[errorResponse](t, rec).Detail == "" {
				t.Error("expected detail in error body")
			}
			if svc.runCalls != 0 {
				t.Error("service must not be called for invalid input")
			}
		})
	}
}

func TestHandleSummarize_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"submission", domain.SubmissionError("platform returned status 401", nil), http.StatusBadGateway},
		{"pipeline failed", domain.PipelineFailedError("run-3"), http.StatusBadGateway},
		{"poll timeout", domain.PollTimeoutError("run-2", 601*time.Second, nil), http.StatusGatewayTimeout},
		{"request deadline", fmt.Errorf("poll run r: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"cancelled", fmt.Errorf("poll run r: %w", context.Canceled), http.StatusServiceUnavailable},
		{"other", errors.New("no pipeline configured"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, newRouter(&mockService{runErr: tt.err}), http.MethodPost, "/api/v1/channel/analyze", `{"url":"u"}`)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := decode[errorResponse](t, rec).Detail; got != tt.err.Error() {
				t.Errorf("detail = %q, want %q", got, tt.err.Error())
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	for _, path := range []string{"/api/v1/video/status/run-9", "/api/v1/channel/status/run-9"} {
		t.Run(path, func(t *testing.T) {
			svc := &mockService{status: &domain.RunStatus{Handle: "run-9", State: domain.RunStateRunning, RawState: "RUNNING"}}
			rec := doRequest(t, newRouter(svc), http.MethodGet, path, "")

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if svc.gotHandle != "run-9" {
				t.Errorf("handle = %q", svc.gotHandle)
			}
			body := decode[map[string]any](t, rec)
			if body["job_id"] != "run-9" {
				t.Errorf("job_id = %v", body["job_id"])
			}
			status := body["status"].(map[string]any)
			if status["state"] != "RUNNING" {
				t.Errorf("status.state = %v", status["state"])
			}
		})
	}
}

func TestHandleStatus_RemoteError(t *testing.T) {
	svc := &mockService{statusErr: domain.StatusError("run-9", "platform returned status 404", nil)}
	rec := doRequest(t, newRouter(svc), http.MethodGet, "/api/v1/video/status/run-9", "")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHandleRuns(t *testing.T) {
	svc := &mockService{runs: []*storage.RunRecord{{ID: "a", Status: storage.StatusDone}}}
	h := newRouter(svc)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.gotLimit != storage.DefaultListLimit {
		t.Errorf("limit = %d, want default", svc.gotLimit)
	}
	if got := decode[RunsResponse](t, rec); len(got.Runs) != 1 || got.Runs[0].ID != "a" {
		t.Errorf("runs = %+v", got.Runs)
	}

	doRequest(t, h, http.MethodGet, "/api/v1/runs?limit=5", "")
	if svc.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", svc.gotLimit)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/runs?limit=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSummarize_ErrorLogsRunID(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"poll timeout", domain.PollTimeoutError("run-2", 601*time.Second, nil), `"run_id":"run-2"`},
		{"pipeline failed", domain.PipelineFailedError("run-3"), `"run_id":"run-3"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&logs, nil))

			r := chi.NewRouter()
			r.Use(server.LoggingMiddleware(logger))
			NewHandler(&mockService{runErr: tt.err}, tokens.NewEstimator(), logger).Routes(r)

			doRequest(t, r, http.MethodPost, "/api/v1/video/summarize", `{"url":"u"}`)

			var completed string
			for _, line := range strings.Split(logs.String(), "\n") {
				if strings.Contains(line, "request completed") {
					completed = line
				}
			}
			if !strings.Contains(completed, tt.want) {
				t.Errorf("request log %q missing %s", completed, tt.want)
			}
		})
	}
}

func TestHandleSummarize_SubmissionErrorHasNoRunID(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	r := chi.NewRouter()
	r.Use(server.LoggingMiddleware(logger))
	NewHandler(&mockService{runErr: domain.SubmissionError("platform returned status 401", nil)}, nil, logger).Routes(r)

	doRequest(t, r, http.MethodPost, "/api/v1/video/summarize", `{"url":"u"}`)

	if strings.Contains(logs.String(), `"run_id"`) {
		t.Errorf("no run exists yet, log = %s", logs.String())
	}
	if !strings.Contains(logs.String(), `"error_kind":"remote_submission"`) {
		t.Errorf("log missing error kind: %s", logs.String())
	}
}
