package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("hook")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("site enabled", "site", "IDXGISwapChain::Present")

	out := buf.String()
	if !strings.Contains(out, `msg="site enabled"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=hook") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "site=IDXGISwapChain::Present") {
		t.Fatalf("expected site field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("present")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestSetLevelAtRuntime(t *testing.T) {
	logger := L("config")

	var buf bytes.Buffer
	Init("text", "error", &buf)
	logger.Info("before")

	SetLevel("debug")
	defer SetLevel("info")
	logger.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Fatalf("info log should be filtered at error level: %s", out)
	}
	if !strings.Contains(out, "after") {
		t.Fatalf("debug log should be emitted after SetLevel: %s", out)
	}
	if Level() != "debug" {
		t.Fatalf("Level() = %q, want debug", Level())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("session").Info("attached", "backend", "dx11")

	out := buf.String()
	if !strings.Contains(out, `"component":"session"`) || !strings.Contains(out, `"backend":"dx11"`) {
		t.Fatalf("expected JSON fields, got: %s", out)
	}
}

func TestRingCapturesBelowLocalLevel(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "error", &buf)
	ring := InitRing(4, "debug")
	defer func() {
		ringMu.Lock()
		globalRing = nil
		ringMu.Unlock()
	}()

	L("hud").Info("frame", KeyFrame, 12)

	if strings.Contains(buf.String(), "frame") {
		t.Fatalf("local handler should filter info at error level: %s", buf.String())
	}
	tail := ring.Tail(0)
	if len(tail) != 1 {
		t.Fatalf("ring len = %d, want 1", len(tail))
	}
	if tail[0].Component != "hud" {
		t.Fatalf("component = %q, want hud", tail[0].Component)
	}
	if tail[0].Fields[KeyFrame] != int64(12) {
		t.Fatalf("frame field = %#v, want 12", tail[0].Fields[KeyFrame])
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing(3, "debug")
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		r.Add(Entry{Message: msg})
	}

	tail := r.Tail(0)
	if len(tail) != 3 {
		t.Fatalf("len = %d, want 3", len(tail))
	}
	got := tail[0].Message + tail[1].Message + tail[2].Message
	if got != "cde" {
		t.Fatalf("tail = %q, want cde", got)
	}
	if last := r.Tail(1); last[0].Message != "e" {
		t.Fatalf("Tail(1) = %q, want e", last[0].Message)
	}
	if r.Total() != 5 {
		t.Fatalf("Total = %d, want 5", r.Total())
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "hudhook.log")

	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backup beyond maxBackups should not exist, err=%v", err)
	}

	if err := rw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Fatal("write after close should fail")
	}
}
