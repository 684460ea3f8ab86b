package jobs

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantURL string
		wantN   int
	}{
		{name: "top level results", payload: `{"results":[{"url":"https://a/1.png"},{"url":"https://a/2.png"}]}`, wantURL: "https://a/1.png", wantN: 2},
		{name: "url list", payload: `{"urls":["https://a/x.wav"]}`, wantURL: "https://a/x.wav", wantN: 1},
		{name: "nested results", payload: `{"output":{"task_status":"SUCCEEDED","results":[{"url":""},{"url":"https://a/y.png"}]}}`, wantURL: "https://a/y.png", wantN: 2},
		{name: "nested video url", payload: `{"output":{"video_url":"https://a/v.mp4"}}`, wantURL: "https://a/v.mp4"},
		{name: "nested audio map", payload: `{"output":{"audio_url":{"url":"https://a/s.mp3"}}}`, wantURL: "https://a/s.mp3"},
		{name: "bare url", payload: `{"url":" https://a/z.png "}`, wantURL: "https://a/z.png"},
		{name: "no url", payload: `{"output":{"task_status":"SUCCEEDED"}}`},
		{name: "not json", payload: `<html>oops</html>`},
		{name: "json array", payload: `["https://a/1.png"]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize("job-1", json.RawMessage(tc.payload))
			if res.JobID != "job-1" {
				t.Fatalf("job id = %q", res.JobID)
			}
			if res.PrimaryURL != tc.wantURL {
				t.Fatalf("primary url = %q, want %q", res.PrimaryURL, tc.wantURL)
			}
			if string(res.RawPayload) != tc.payload {
				t.Fatalf("raw payload not retained: %q", res.RawPayload)
			}
			n, _ := res.Metadata["result_count"].(int)
			if n != tc.wantN {
				t.Fatalf("result_count = %d, want %d", n, tc.wantN)
			}
		})
	}
}

func TestNormalizeEmptyPayload(t *testing.T) {
	res := Normalize("job-2", nil)
	if res.PrimaryURL != "" || res.RawPayload != nil || res.Metadata != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNormalizeUsageMetadata(t *testing.T) {
	res := Normalize("job-3", json.RawMessage(`{"output":{"results":[{"url":"u"}]},"usage":{"image_count":1}}`))
	usage, ok := res.Metadata["usage"].(map[string]any)
	if !ok || usage["image_count"] != float64(1) {
		t.Fatalf("usage = %#v", res.Metadata["usage"])
	}
}
