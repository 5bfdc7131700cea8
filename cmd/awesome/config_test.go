package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mgomes/wmclass/awesome"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "awesome.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
miss_policy: fail
preload:
  - lib/init.lua
  - /abs/other.lua
`)
	config, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if config.MissPolicy != "fail" {
		t.Fatalf("unexpected policy %q", config.MissPolicy)
	}
	if config.LogLevel != "none" || config.LogFormat != "text" {
		t.Fatalf("defaults not applied: %+v", config)
	}
	wantRelative := filepath.Join(filepath.Dir(path), "lib/init.lua")
	if config.Preload[0] != wantRelative || config.Preload[1] != "/abs/other.lua" {
		t.Fatalf("unexpected preload paths %v", config.Preload)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "failed to read") {
		t.Fatalf("expected read error, got %v", err)
	}
	path := writeConfig(t, "miss_policy: [unterminated")
	if _, err := loadConfig(path); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := writeConfig(t, `
miss_policy: fail
log_level: info
max_parent_depth: 4
`)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	opts := bindCommonFlags(fs)
	if err := fs.Parse([]string{"-config", path, "-miss-policy", "ignore", "-preload", "a.lua"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	config, err := opts.resolve(fs)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if config.MissPolicy != "ignore" {
		t.Fatalf("flag did not override file policy: %q", config.MissPolicy)
	}
	if config.LogLevel != "info" || config.MaxParentDepth != 4 {
		t.Fatalf("file values lost: %+v", config)
	}
	if len(config.Preload) != 1 || config.Preload[0] != "a.lua" {
		t.Fatalf("unexpected preload %v", config.Preload)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelError,
	}
	for input, want := range tests {
		if got := logLevelFromString(input); got != want {
			t.Fatalf("level %q: expected %v, got %v", input, want, got)
		}
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "awesome.log")
	logger, cleanup, err := newLogger(&fileConfig{LogLevel: "debug", LogFormat: "json", LogFile: logPath})
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}
	logger.Debug("hello", "class", "__button_class")
	cleanup()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"class":"__button_class"`) {
		t.Fatalf("unexpected log contents %q", data)
	}

	if _, _, err := newLogger(&fileConfig{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestOpenSessionPublishesDemoClasses(t *testing.T) {
	s, err := openSession(context.Background(), &fileConfig{LogLevel: "none", LogFormat: "text", MissPolicy: "fail"})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	defer s.Close()

	button, err := awesome.ButtonClass(s.runtime)
	if err != nil {
		t.Fatalf("button lookup failed: %v", err)
	}
	if button.State().Parent() != "__widget_class" {
		t.Fatalf("unexpected parent %q", button.State().Parent())
	}
	if button.State().Policy() != awesome.MissFail {
		t.Fatalf("session policy not applied")
	}
	if _, err := s.runtime.LookupWellKnown("widget"); err != nil {
		t.Fatalf("widget lookup failed: %v", err)
	}
}

func TestOpenSessionPreloadFailure(t *testing.T) {
	preload := writeScript(t, `error("bad preload")`)
	_, err := openSession(context.Background(), &fileConfig{LogLevel: "none", LogFormat: "text", Preload: []string{preload}})
	if err == nil || !strings.Contains(err.Error(), "bad preload") {
		t.Fatalf("expected preload failure, got %v", err)
	}
}
