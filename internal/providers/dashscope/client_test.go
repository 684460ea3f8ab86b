package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"asyncgen/internal/domain"
	"asyncgen/internal/jobs"
)

type captureTransport struct {
	responses map[string]responseStub
	lastReq   *http.Request
	lastBody  []byte
	err       error
}

type responseStub struct {
	status int
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastReq = req
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	if c.err != nil {
		return nil, c.err
	}
	stub, ok := c.responses[req.URL.Path]
	if !ok {
		stub = responseStub{status: http.StatusNotFound, body: []byte(`{"code":"NotFound","message":"no stub"}`)}
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(stub.body)),
		Request:    req,
	}, nil
}

func (c *captureTransport) setJSON(path string, status int, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{status: status, body: body}
}

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    "https://dashscope.test/api/v1/",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestCreateJobSendsAsyncTask(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSON("/api/v1/services/aigc/video-generation/video-synthesis", http.StatusOK, map[string]any{
		"request_id": "req-1",
		"output":     map[string]any{"task_id": "task-123", "task_status": "PENDING"},
	})

	id, err := client.CreateJob(context.Background(), domain.JobKindVideo,
		json.RawMessage(`{"input":{"prompt":"a lighthouse at dusk"},"parameters":{"size":"1280*720"}}`))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if id != "task-123" {
		t.Fatalf("task id = %q", id)
	}
	if got := transport.lastReq.Header.Get("X-DashScope-Async"); got != "enable" {
		t.Fatalf("async header = %q", got)
	}
	if got := transport.lastReq.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("authorization = %q", got)
	}
	var sent taskRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if sent.Model != "wan2.1-t2v-turbo" {
		t.Fatalf("model = %q", sent.Model)
	}
	if string(sent.Input) != `{"prompt":"a lighthouse at dusk"}` || string(sent.Parameters) != `{"size":"1280*720"}` {
		t.Fatalf("input = %s parameters = %s", sent.Input, sent.Parameters)
	}
}

func TestCreateJobBareInputAndModelOverride(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSON("/api/v1/services/aigc/text2image/image-synthesis", http.StatusOK, map[string]any{
		"output": map[string]any{"task_id": "img-1"},
	})

	if _, err := client.CreateJob(context.Background(), domain.JobKindImage, json.RawMessage(`{"model":"wanx-v1","prompt":"a fox"}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	var sent taskRequest
	_ = json.Unmarshal(transport.lastBody, &sent)
	if sent.Model != "wanx-v1" {
		t.Fatalf("model = %q", sent.Model)
	}
	if string(sent.Input) != `{"model":"wanx-v1","prompt":"a fox"}` {
		t.Fatalf("input = %s", sent.Input)
	}
}

func TestCreateJobErrors(t *testing.T) {
	noKey, _ := NewClient(Options{})
	if _, err := noKey.CreateJob(context.Background(), domain.JobKindVideo, json.RawMessage(`{}`)); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}

	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	if _, err := client.CreateJob(context.Background(), domain.JobKindVideo, nil); err == nil {
		t.Fatal("expected error for empty input")
	}

	transport.setJSON("/api/v1/services/aigc/video-generation/video-synthesis", http.StatusBadRequest, map[string]any{
		"code": "InvalidParameter", "message": "prompt too long",
	})
	_, err := client.CreateJob(context.Background(), domain.JobKindVideo, json.RawMessage(`{"prompt":"x"}`))
	if err == nil || err.Error() != "dashscope: prompt too long (InvalidParameter)" {
		t.Fatalf("err = %v", err)
	}
}

func TestQueryJob(t *testing.T) {
	running := map[string]any{"output": map[string]any{"task_id": "t1", "task_status": "RUNNING", "progress": 37.5}}
	metrics := map[string]any{"output": map[string]any{"task_id": "t1", "task_status": "RUNNING",
		"task_metrics": map[string]any{"TOTAL": 4, "SUCCEEDED": 1, "FAILED": 1}}}
	succeeded := map[string]any{"output": map[string]any{"task_id": "t1", "task_status": "SUCCEEDED",
		"video_url": "https://dashscope-result.test/v.mp4"}}
	failed := map[string]any{"output": map[string]any{"task_id": "t1", "task_status": "FAILED",
		"code": "DataInspectionFailed", "message": "input data may contain inappropriate content"}}

	tests := []struct {
		name        string
		status      int
		payload     any
		transportEr error
		wantErr     error
		wantOK      bool
		wantStatus  string
		wantPercent float64
		wantMsg     string
	}{
		{name: "running with progress", status: 200, payload: running, wantOK: true, wantStatus: "RUNNING", wantPercent: 37.5},
		{name: "running with metrics", status: 200, payload: metrics, wantOK: true, wantStatus: "RUNNING", wantPercent: 50},
		{name: "succeeded", status: 200, payload: succeeded, wantOK: true, wantStatus: "SUCCEEDED"},
		{name: "failed carries message", status: 200, payload: failed, wantOK: true, wantStatus: "FAILED", wantMsg: "input data may contain inappropriate content"},
		{name: "missing output", status: 200, payload: map[string]any{"request_id": "r"}, wantOK: false},
		{name: "unauthorized", status: 401, payload: map[string]any{"code": "InvalidApiKey", "message": "Invalid API-key provided."}, wantOK: false, wantMsg: "Invalid API-key provided. (InvalidApiKey)"},
		{name: "gateway", status: 503, payload: map[string]any{}, wantErr: jobs.ErrTransport},
		{name: "throttled", status: 429, payload: map[string]any{"code": "Throttling"}, wantErr: jobs.ErrTransport},
		{name: "network", transportEr: errors.New("connection refused"), wantErr: jobs.ErrTransport},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}, err: tc.transportEr}
			client := newTestClient(t, transport)
			transport.setJSON("/api/v1/tasks/t1", tc.status, tc.payload)

			resp, err := client.QueryJob(context.Background(), "t1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("QueryJob: %v", err)
			}
			if resp.OK != tc.wantOK {
				t.Fatalf("ok = %v, want %v (%+v)", resp.OK, tc.wantOK, resp)
			}
			if resp.Status != tc.wantStatus {
				t.Fatalf("status = %q, want %q", resp.Status, tc.wantStatus)
			}
			if tc.wantMsg != "" && resp.Message != tc.wantMsg {
				t.Fatalf("message = %q, want %q", resp.Message, tc.wantMsg)
			}
			if tc.wantPercent != 0 && (resp.Percent == nil || *resp.Percent != tc.wantPercent) {
				t.Fatalf("percent = %v, want %v", resp.Percent, tc.wantPercent)
			}
			if tc.wantOK && len(resp.Payload) == 0 {
				t.Fatal("payload not retained")
			}
		})
	}
}

func TestQueryJobFeedsPoller(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	transport.setJSON("/api/v1/tasks/t9", http.StatusOK, map[string]any{
		"output": map[string]any{"task_id": "t9", "task_status": "SUCCEEDED", "results": []map[string]string{{"url": "https://r.test/1.png"}}},
	})

	resp, err := client.QueryJob(context.Background(), "t9")
	out := jobs.ClassifyQuery(resp, err)
	if out.Kind != jobs.OutcomeSuccess {
		t.Fatalf("outcome = %s", out.Kind)
	}
	if res := jobs.Normalize("t9", out.Payload); res.PrimaryURL != "https://r.test/1.png" {
		t.Fatalf("primary url = %q", res.PrimaryURL)
	}
}
