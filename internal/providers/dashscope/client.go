package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
	"asyncgen/internal/jobs"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("dashscope: api key is required")

const providerName = "dashscope"

// Options configures the DashScope async task client.
type Options struct {
	APIKey         string
	BaseURL        string
	VideoModel     string
	ImageModel     string
	AudioModel     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits asynchronous synthesis tasks to DashScope and reports their
// status. It implements jobs.Provider.
type Client struct {
	apiKey     string
	baseURL    string
	models     map[domain.JobKind]string
	httpClient *http.Client
	logger     *infra.Logger
}

var endpoints = map[domain.JobKind]string{
	domain.JobKindVideo: "/services/aigc/video-generation/video-synthesis",
	domain.JobKindImage: "/services/aigc/text2image/image-synthesis",
	domain.JobKindAudio: "/services/aigc/audio-generation/generation",
}

type taskRequest struct {
	Model      string          `json:"model"`
	Input      json.RawMessage `json:"input"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type callerInput struct {
	Model      string          `json:"model"`
	Input      json.RawMessage `json:"input"`
	Parameters json.RawMessage `json:"parameters"`
}

type taskOutput struct {
	TaskID      string   `json:"task_id"`
	TaskStatus  string   `json:"task_status"`
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Progress    *float64 `json:"progress"`
	TaskMetrics *struct {
		Total     int `json:"TOTAL"`
		Succeeded int `json:"SUCCEEDED"`
		Failed    int `json:"FAILED"`
	} `json:"task_metrics"`
}

type taskResponse struct {
	Output    *taskOutput `json:"output"`
	RequestID string      `json:"request_id"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	models := map[domain.JobKind]string{
		domain.JobKindVideo: firstNonEmpty(opts.VideoModel, "wan2.1-t2v-turbo"),
		domain.JobKindImage: firstNonEmpty(opts.ImageModel, "wanx2.1-t2i-turbo"),
		domain.JobKindAudio: firstNonEmpty(opts.AudioModel, "cosyvoice-v1"),
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		models:     models,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Name implements jobs.Provider.
func (c *Client) Name() string {
	return providerName
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreateJob submits an asynchronous task and returns its task id. input may
// carry "model", "input" and "parameters"; an object without "input" is sent
// as the task input as a whole.
func (c *Client) CreateJob(ctx context.Context, kind domain.JobKind, input json.RawMessage) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	path, ok := endpoints[kind]
	if !ok {
		return "", fmt.Errorf("dashscope: unsupported job kind %q", kind)
	}
	payload, err := c.buildTaskRequest(kind, input)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("dashscope: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("dashscope: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-DashScope-Async", "enable")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("dashscope: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("dashscope: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("dashscope: %s", describeError(resp.StatusCode, raw))
	}
	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("dashscope: decode response: %w", err)
	}
	if decoded.Code != "" {
		return "", fmt.Errorf("dashscope: %s (%s)", decoded.Message, decoded.Code)
	}
	if decoded.Output == nil || strings.TrimSpace(decoded.Output.TaskID) == "" {
		return "", errors.New("dashscope: response missing task id")
	}
	c.logger.Debug().
		Str("model", payload.Model).
		Str("kind", string(kind)).
		Str("request_id", decoded.RequestID).
		Str("task_id", decoded.Output.TaskID).
		Msg("dashscope: task submitted")
	return decoded.Output.TaskID, nil
}

// QueryJob fetches the task status. Network failures and gateway errors are
// reported as transport hiccups; anything else the provider answers with is
// returned as an envelope for classification.
func (c *Client) QueryJob(ctx context.Context, jobID string) (*jobs.QueryResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/tasks/" + url.PathEscape(strings.TrimSpace(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dashscope: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, jobs.TransportError(fmt.Errorf("dashscope: http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, jobs.TransportError(fmt.Errorf("dashscope: read response: %w", err))
	}
	if isGatewayStatus(resp.StatusCode) {
		return nil, jobs.TransportError(fmt.Errorf("dashscope: %s", describeError(resp.StatusCode, raw)))
	}
	if resp.StatusCode >= 300 {
		return &jobs.QueryResponse{OK: false, Message: describeError(resp.StatusCode, raw)}, nil
	}

	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return &jobs.QueryResponse{OK: false, Message: "dashscope: decode response: " + err.Error()}, nil
	}
	if decoded.Output == nil {
		msg := "dashscope: response missing output"
		if decoded.Message != "" {
			msg = fmt.Sprintf("dashscope: %s (%s)", decoded.Message, decoded.Code)
		}
		return &jobs.QueryResponse{OK: false, Message: msg}, nil
	}

	out := decoded.Output
	return &jobs.QueryResponse{
		OK:      true,
		Status:  out.TaskStatus,
		Percent: taskPercent(out),
		Message: firstNonEmpty(out.Message, decoded.Message),
		Payload: json.RawMessage(raw),
	}, nil
}

func (c *Client) buildTaskRequest(kind domain.JobKind, input json.RawMessage) (taskRequest, error) {
	req := taskRequest{Model: c.models[kind]}
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		return req, errors.New("dashscope: input payload is required")
	}
	var in callerInput
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return req, fmt.Errorf("dashscope: decode input payload: %w", err)
	}
	if m := strings.TrimSpace(in.Model); m != "" {
		req.Model = m
	}
	if len(in.Input) > 0 {
		req.Input = in.Input
		req.Parameters = in.Parameters
	} else {
		req.Input = json.RawMessage(trimmed)
	}
	return req, nil
}

// taskPercent derives a completion percentage when DashScope reports one,
// either directly or through batch task metrics.
func taskPercent(out *taskOutput) *float64 {
	if out.Progress != nil {
		return out.Progress
	}
	if m := out.TaskMetrics; m != nil && m.Total > 0 {
		p := float64(m.Succeeded+m.Failed) / float64(m.Total) * 100
		return &p
	}
	return nil
}

func isGatewayStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func describeError(status int, raw []byte) string {
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
		return fmt.Sprintf("%s (%s)", detail.Message, detail.Code)
	}
	return fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(raw)))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ jobs.Provider = (*Client)(nil)
