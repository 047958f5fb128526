package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	return record
}

func TestContextAttrsAreAppended(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(contextHandler{slog.NewJSONHandler(&buf, nil)}).With(slog.String("component", "assistant"))

	ctx := WithAttrs(context.Background(), slog.String("session_key", "sess-1"))
	ctx = WithAttrs(ctx, slog.String("flow", "launch"))
	log.InfoContext(ctx, "wizard advanced")

	record := decodeLine(t, &buf)
	if record["session_key"] != "sess-1" || record["flow"] != "launch" || record["component"] != "assistant" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestContextAttrsDoNotLeakAcrossRequests(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(contextHandler{slog.NewJSONHandler(&buf, nil)})

	_ = WithAttrs(context.Background(), slog.String("session_key", "sess-1"))
	log.InfoContext(context.Background(), "other request")
	if record := decodeLine(t, &buf); record["session_key"] != nil {
		t.Fatalf("attributes leaked into an unrelated context: %v", record)
	}
	if ctx := context.Background(); WithAttrs(ctx) != ctx {
		t.Fatalf("WithAttrs without attributes should return the same context")
	}
}

func TestOpenOutputsCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	out, err := openOutputs([]string{path})
	if err != nil {
		t.Fatalf("openOutputs returned error: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })
	if _, err := out.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "hello") {
		t.Fatalf("expected log file content, got %q, %v", data, err)
	}

	if out, err := openOutputs(nil); err != nil || out != os.Stdout {
		t.Fatalf("expected stdout by default, got %v, %v", out, err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
