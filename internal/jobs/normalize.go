package jobs

import (
	"encoding/json"
	"strings"

	"asyncgen/internal/domain"
)

// resultListKeys are checked in order; the first URL found wins.
var resultListKeys = []string{"results", "urls", "video_url", "image_url", "audio_url", "url"}

// Normalize builds the caller-facing result from a terminal success payload.
// A payload that cannot be parsed still yields a result: PrimaryURL is left
// empty and the raw bytes are retained.
func Normalize(jobID string, payload json.RawMessage) domain.NormalizedResult {
	res := domain.NormalizedResult{JobID: jobID}
	if len(payload) > 0 {
		res.RawPayload = append(json.RawMessage(nil), payload...)
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil || doc == nil {
		return res
	}

	res.PrimaryURL = primaryURL(doc)
	if nested, ok := doc["output"].(map[string]any); ok && res.PrimaryURL == "" {
		res.PrimaryURL = primaryURL(nested)
	}

	meta := map[string]any{}
	if usage, ok := doc["usage"].(map[string]any); ok {
		meta["usage"] = usage
	}
	if n := countResults(doc); n > 0 {
		meta["result_count"] = n
	}
	if len(meta) > 0 {
		res.Metadata = meta
	}
	return res
}

func primaryURL(doc map[string]any) string {
	for _, key := range resultListKeys {
		if u := firstURL(doc[key]); u != "" {
			return u
		}
	}
	return ""
}

func firstURL(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		for _, item := range t {
			if u := firstURL(item); u != "" {
				return u
			}
		}
	case map[string]any:
		for _, key := range []string{"url", "video_url", "image_url", "audio_url"} {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func countResults(doc map[string]any) int {
	for _, src := range []map[string]any{doc, asMap(doc["output"])} {
		if src == nil {
			continue
		}
		for _, key := range []string{"results", "urls"} {
			if list, ok := src[key].([]any); ok {
				return len(list)
			}
		}
	}
	return 0
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
