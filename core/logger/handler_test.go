package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/flowbot/core/config"
)

func newTestHandler(buf *bytes.Buffer, format logFormat) (*structuredHandler, *asyncWriter) {
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	return newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	}), aw
}

func drain(t *testing.T, aw *asyncWriter) {
	t.Helper()
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)
	ctx = WithKind(ctx, "message")

	log := slog.New(handler).With("component", "dispatch")
	LogEvent(ctx, log, slog.LevelInfo, "update.handled",
		slog.String("status", "ok"),
		slog.Int("handlers", 2),
	)
	drain(t, aw)

	line := strings.TrimSpace(buf.String())
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=dispatch", "event=update.handled", "status=ok", "rid=rid-123", "update_id=42", "kind=message", "correspondent_id=7", "chat_id=9", "handlers=2"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	ctx := WithRID(context.Background(), "rid-json")

	log := slog.New(handler).With("component", "fsm")
	LogEvent(ctx, log, slog.LevelError, "transition.failed",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
	)
	drain(t, aw)

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"fsm"`, `"event":"transition.failed"`, `"status":"fail"`, `"rid":"rid-json"`, `"err":"boom"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	rawRID := BuildRID(12, 34, 56)
	ctx := WithRID(context.Background(), rawRID)
	LogEvent(ctx, slog.New(handler), slog.LevelInfo, "rid.test", slog.String("status", "ok"))
	drain(t, aw)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, `"rid":"`+CompactRID(rawRID)+`"`) {
		t.Fatalf("expected compact rid in JSON, got %s", line)
	}
	if !strings.Contains(line, `"rid_full":"`+rawRID+`"`) {
		t.Fatalf("expected rid_full in JSON output, got %s", line)
	}
	if !strings.Contains(line, `"component":"app"`) {
		t.Fatalf("expected default component, got %s", line)
	}
}

func TestStructuredHandlerDurationAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	log := slog.New(handler)
	log.Debug("dropped")
	LogEvent(context.Background(), log, slog.LevelInfo, "timed",
		slog.Duration("duration", 1500*time.Microsecond),
		slog.String("outcome", "bogus"),
	)
	drain(t, aw)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, "duration_ms=2") {
		t.Fatalf("expected rounded duration_ms, got %s", out)
	}
	if strings.Contains(out, "outcome=") {
		t.Fatalf("unknown outcome should be dropped, got %s", out)
	}
}

func TestCompactRID(t *testing.T) {
	if got := CompactRID("36:0:-36"); got != "10.0.-10" {
		t.Fatalf("CompactRID = %q", got)
	}
	if got := CompactRID("not-a-rid"); got != "not-a-rid" {
		t.Fatalf("CompactRID passthrough = %q", got)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var allowed int
	for i := 0; i < 9; i++ {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed = %d, want 3", allowed)
	}
	if num, den := parseRatioSpec("2/5"); num != 2 || den != 5 {
		t.Fatalf("parseRatioSpec(2/5) = %d/%d", num, den)
	}
	if num, den := parseRatioSpec("10"); num != 1 || den != 10 {
		t.Fatalf("parseRatioSpec(10) = %d/%d", num, den)
	}
}

func TestAsyncWriterAfterClose(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 16)
	for i := 0; i < 100; i++ {
		if err := aw.Write([]byte("line\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := strings.Count(buf.String(), "line\n"); got != 100 {
		t.Fatalf("lines written = %d, want 100", got)
	}
	if err := aw.Write([]byte("late\n")); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
	if strings.Contains(buf.String(), "late") {
		t.Fatal("line accepted after close")
	}
}

func TestRatioSamplerDisabled(t *testing.T) {
	s := newRatioSampler(0, 0)
	for i := 0; i < 5; i++ {
		if !s.Allow() {
			t.Fatal("disabled sampler dropped an event")
		}
	}
	s.Set(5, 2)
	if !s.Allow() || !s.Allow() {
		t.Fatal("n > d must admit every event")
	}
}

func TestFieldsAccumulate(t *testing.T) {
	ctx := WithUpdateMeta(context.Background(), 5, 6, 7)
	ctx = WithKind(ctx, "callback")
	ctx = WithTrace(ctx, "t1", "")
	ctx = WithTrace(ctx, "", "s1")
	ctx = WithKind(ctx, "")

	want := Fields{UpdateID: 5, CorrespondentID: 6, ChatID: 7, Kind: "callback", TraceID: "t1", SpanID: "s1"}
	if got := FieldsFrom(ctx); got != want {
		t.Fatalf("fields = %+v, want %+v", got, want)
	}

	e := entry{"kind": "explicit"}
	FieldsFrom(ctx).appendTo(e)
	if e["kind"] != "explicit" || e["update_id"] != int64(5) {
		t.Fatalf("appendTo = %v", e)
	}
	if _, ok := e["rid"]; ok {
		t.Fatal("empty rid must not be added")
	}
}

func TestResolveSettings(t *testing.T) {
	s := resolve(nil)
	if s.level != slog.LevelInfo || s.format != formatJSON || s.sampleD != 50 {
		t.Fatalf("nil config = %+v", s)
	}

	cfg := &coreconfig.Config{}
	cfg.Logging.Profile = "Dev"
	cfg.Logging.Level = "warning"
	cfg.Logging.KeysOrder = "event, ts"
	cfg.Logging.DebugSample = "off"
	cfg.Logging.Dir = "logs"
	cfg.Logging.BotFile = "bot.log"
	s = resolve(cfg)
	if s.level != slog.LevelWarn || s.format != formatKV || s.profile != "dev" {
		t.Fatalf("resolve = %+v", s)
	}
	if strings.Join(s.keyOrder, ",") != "event,ts" {
		t.Fatalf("key order = %v", s.keyOrder)
	}
	if s.sampleN != 0 || s.sampleD != 0 {
		t.Fatalf("sample = %d/%d", s.sampleN, s.sampleD)
	}
	if s.file != "logs/bot.log" {
		t.Fatalf("file = %q", s.file)
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := Sanitize("a\x00b\u200bc\n"); got != "abc\n" {
		t.Fatalf("Sanitize = %q", got)
	}
	if got := SanitizeLimit("héllo", 2); got != "hé" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if got := SanitizeLimit("hi", 5); got != "hi" {
		t.Fatalf("SanitizeLimit short = %q", got)
	}
}
