package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/insight-gateway/internal/config"
	"github.com/tjfontaine/insight-gateway/internal/domain"
)

const (
	instrumentationName = "github.com/tjfontaine/insight-gateway/internal/pipeline"

	// maxErrorBody bounds how much of an error response ends up in messages.
	maxErrorBody = 512
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL overrides the configured platform base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithLogger sets the logger used for per-call diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client issues start and status calls against the platform. It is safe
// for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	statusMode string
	// startModes resolves the start shape per pipeline id.
	startModes config.PipelineConfig
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewClient creates a client from the pipeline configuration. The caller
// identity and key are captured once here.
func NewClient(cfg config.PipelineConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userID:     cfg.UserID,
		statusMode: cfg.StatusMode,
		startModes: cfg,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRun starts pipelineID with inputURL as its link input and returns
// the run handle. Failures are KindRemoteSubmission and are not retried.
func (c *Client) StartRun(ctx context.Context, pipelineID, inputURL string) (domain.RunHandle, error) {
	mode := c.startModes.StartModeFor(pipelineID)
	ctx, span := c.tracer.Start(ctx, "pipeline.start_run", trace.WithAttributes(
		attribute.String("pipeline.id", pipelineID),
		attribute.String("pipeline.start_mode", mode),
	))
	defer span.End()

	handle, err := c.startRun(ctx, mode, pipelineID, inputURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("run.id", string(handle)))
	return handle, nil
}

func (c *Client) startRun(ctx context.Context, mode, pipelineID, inputURL string) (domain.RunHandle, error) {
	httpReq, err := c.newStartRequest(ctx, mode, pipelineID, inputURL)
	if err != nil {
		return "", domain.SubmissionError("create start request", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.SubmissionError("start request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.SubmissionError("read start response", err).WithStatusCode(resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.SubmissionError(
			fmt.Sprintf("platform returned status %d: %s", resp.StatusCode, snippet(respBody)), nil,
		).WithStatusCode(resp.StatusCode)
	}

	var started StartResponse
	if err := json.Unmarshal(respBody, &started); err != nil {
		return "", domain.SubmissionError("unmarshal start response", err).WithStatusCode(resp.StatusCode)
	}
	if started.RunID == "" {
		return "", domain.SubmissionError("start response has no run_id", nil).WithStatusCode(resp.StatusCode)
	}

	c.logger.InfoContext(ctx, "pipeline run started",
		slog.String("pipeline_id", pipelineID),
		slog.String("start_mode", mode),
		slog.String("run_id", started.RunID),
		slog.String("tracking_url", started.URL),
	)

	return domain.RunHandle(started.RunID), nil
}

func (c *Client) newStartRequest(ctx context.Context, mode, pipelineID, inputURL string) (*http.Request, error) {
	endpoint := c.baseURL + "/api/v1/start_pipeline"

	var payload any
	switch mode {
	case config.StartModeQuery:
		q := url.Values{}
		q.Set("user_id", c.userID)
		q.Set("saved_item_id", pipelineID)
		endpoint += "?" + q.Encode()
		payload = map[string]string{inputName: inputURL}
	default:
		payload = StartRequest{
			UserID:      c.userID,
			SavedItemID: pipelineID,
			PipelineInputs: []PipelineInput{
				{InputName: inputName, Value: inputURL},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)
	return httpReq, nil
}

// GetStatus fetches the current snapshot of a run. Failures are
// KindRemoteStatus, which the poller treats as transient.
func (c *Client) GetStatus(ctx context.Context, handle domain.RunHandle) (*domain.RunStatus, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.get_status", trace.WithAttributes(
		attribute.String("run.id", string(handle)),
		attribute.String("pipeline.status_mode", c.statusMode),
	))
	defer span.End()

	status, err := c.getStatus(ctx, handle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("run.state", string(status.State)))
	return status, nil
}

func (c *Client) getStatus(ctx context.Context, handle domain.RunHandle) (*domain.RunStatus, error) {
	if handle == "" {
		return nil, domain.StatusError(handle, "empty run handle", nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL(handle), nil)
	if err != nil {
		return nil, domain.StatusError(handle, "create status request", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.StatusError(handle, "status request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.StatusError(handle, "read status response", err).WithStatusCode(resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.StatusError(handle,
			fmt.Sprintf("platform returned status %d: %s", resp.StatusCode, snippet(respBody)), nil,
		).WithStatusCode(resp.StatusCode)
	}

	var run RunResponse
	if err := json.Unmarshal(respBody, &run); err != nil {
		return nil, domain.StatusError(handle, "unmarshal status response", err).WithStatusCode(resp.StatusCode)
	}

	status := run.toRunStatus(handle)
	c.logger.DebugContext(ctx, "pipeline run polled",
		slog.String("run_id", string(handle)),
		slog.String("state", run.State),
		slog.String("input_url", status.InputURL),
	)
	return status, nil
}

func (c *Client) statusURL(handle domain.RunHandle) string {
	if c.statusMode == config.StatusModeRuns {
		return c.baseURL + "/api/v1/runs/" + url.PathEscape(string(handle))
	}
	q := url.Values{}
	q.Set("run_id", string(handle))
	q.Set("user_id", c.userID)
	return c.baseURL + "/api/v1/get_pl_run?" + q.Encode()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
