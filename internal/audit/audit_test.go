package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerDisabledEmitsNothing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	auditLogger := NewLogger(logger, false)

	auditLogger.LogSystemStart("1.0.0")
	auditLogger.LogServiceStart("web", 1234, 0)
	auditLogger.LogSpawnDenied("worker", "max depth exceeded")

	if buf.String() != "" {
		t.Errorf("expected no output when disabled, got: %s", buf.String())
	}
}

func TestLoggerSystemStart(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	auditLogger := NewLogger(logger, true)
	auditLogger.LogSystemStart("1.0.0")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log output: %v", err)
	}
	if entry["event_type"] != string(EventSystemStart) {
		t.Errorf("event_type = %v, want %s", entry["event_type"], EventSystemStart)
	}
	if entry["status"] != string(StatusSuccess) {
		t.Errorf("status = %v, want %s", entry["status"], StatusSuccess)
	}
	eventJSON, _ := entry["event_json"].(string)
	if !strings.Contains(eventJSON, "1.0.0") {
		t.Errorf("event_json missing version: %s", eventJSON)
	}
}

func TestLoggerServiceCrashLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	auditLogger := NewLogger(logger, true)
	auditLogger.LogServiceCrash("worker", 4242, 1, "")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log output: %v", err)
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
	if entry["status"] != string(StatusError) {
		t.Errorf("status = %v, want %s", entry["status"], StatusError)
	}
}

func TestLoggerCronOverlapSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	auditLogger := NewLogger(logger, true)
	auditLogger.LogCronOverlapSkipped("nightly-backup")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log output: %v", err)
	}
	if entry["event_type"] != string(EventCronOverlapSkipped) {
		t.Errorf("event_type = %v, want %s", entry["event_type"], EventCronOverlapSkipped)
	}
	if entry["resource"] != "nightly-backup" {
		t.Errorf("resource = %v, want nightly-backup", entry["resource"])
	}
}

func TestLoggerSpawnAuthorizedAndDenied(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	auditLogger := NewLogger(logger, true)

	auditLogger.LogSpawnAuthorized("supervisor", "child-1", 2, 555)
	var authorized map[string]interface{}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if err := json.Unmarshal([]byte(lines[0]), &authorized); err != nil {
		t.Fatalf("parse authorized event: %v", err)
	}
	if authorized["event_type"] != string(EventSpawnAuthorized) {
		t.Errorf("event_type = %v, want %s", authorized["event_type"], EventSpawnAuthorized)
	}

	buf.Reset()
	auditLogger.LogSpawnDenied("supervisor", "rate limit exceeded")
	var denied map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &denied); err != nil {
		t.Fatalf("parse denied event: %v", err)
	}
	if denied["status"] != string(StatusFailure) {
		t.Errorf("status = %v, want %s", denied["status"], StatusFailure)
	}
}

func TestLoggerDeployRollback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	auditLogger := NewLogger(logger, true)
	auditLogger.LogDeployRollback("api", errors.New("health check failed"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log output: %v", err)
	}
	if entry["event_type"] != string(EventDeployRollback) {
		t.Errorf("event_type = %v, want %s", entry["event_type"], EventDeployRollback)
	}
	if !strings.Contains(entry["message"].(string), "health check failed") {
		t.Errorf("message = %v, want it to mention the cause", entry["message"])
	}
}
