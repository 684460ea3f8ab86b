package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintInlineQueries(t *testing.T) {
	violations, err := lint([]string{"../../sqlinline"})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, v := range violations {
		t.Errorf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
	}
}

func TestLintReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QOne = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QTwo = `--sql 11111111-2222-4333-8444-555555555555\nselect 2;`\n\nconst QBare = `update jobs set x = 1`\n\nconst Label = \"not sql\"\n")

	violations, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("violations = %+v", violations)
	}
	var msgs []string
	for _, v := range violations {
		msgs = append(msgs, v.name+": "+v.message)
	}
	joined := strings.Join(msgs, "\n")
	if !strings.Contains(joined, "QTwo: marker already used by QOne") || !strings.Contains(joined, "QBare: missing") {
		t.Fatalf("messages = %s", joined)
	}

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 1 || !strings.Contains(stderr.String(), "QBare") {
		t.Fatalf("run = %d, stderr = %s", code, stderr.String())
	}
}
