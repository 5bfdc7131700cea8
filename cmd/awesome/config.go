package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mgomes/wmclass/awesome"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk YAML configuration. Command-line flags override
// every field they set explicitly.
type fileConfig struct {
	MissPolicy     string   `yaml:"miss_policy"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
	LogFile        string   `yaml:"log_file"`
	Preload        []string `yaml:"preload"`
	MaxParentDepth int      `yaml:"max_parent_depth"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config fileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// relative preload paths are relative to the config file
	base := filepath.Dir(path)
	for i, p := range config.Preload {
		if !filepath.IsAbs(p) {
			config.Preload[i] = filepath.Join(base, p)
		}
	}
	config.applyDefaults()
	return &config, nil
}

func (c *fileConfig) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "none"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

type cliOptions struct {
	configPath     string
	missPolicy     string
	logLevel       string
	logFormat      string
	logFile        string
	maxParentDepth int
	preload        pathList
}

func bindCommonFlags(fs *flag.FlagSet) *cliOptions {
	opts := &cliOptions{}
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.missPolicy, "miss-policy", "", "miss handler policy: unimplemented, fail, ignore")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error, none")
	fs.StringVar(&opts.logFormat, "log-format", "", "log format: text, json")
	fs.StringVar(&opts.logFile, "log-file", "", "log file path (if not set, logs to stderr)")
	fs.IntVar(&opts.maxParentDepth, "max-parent-depth", 0, "maximum parent chain length")
	fs.Var(&opts.preload, "preload", "run a Lua file before the main script (repeatable)")
	return opts
}

// resolve merges the config file (if any) with the flags that were set on fs.
func (o *cliOptions) resolve(fs *flag.FlagSet) (*fileConfig, error) {
	config := &fileConfig{}
	if o.configPath != "" {
		loaded, err := loadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "miss-policy":
			config.MissPolicy = o.missPolicy
		case "log-level":
			config.LogLevel = o.logLevel
		case "log-format":
			config.LogFormat = o.logFormat
		case "log-file":
			config.LogFile = o.logFile
		case "max-parent-depth":
			config.MaxParentDepth = o.maxParentDepth
		}
	})
	config.Preload = append(config.Preload, o.preload...)
	config.applyDefaults()
	return config, nil
}

func logLevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelError
	}
}

func configureLogWriter(logFile string) (io.Writer, func()) {
	if logFile == "" {
		return os.Stderr, func() {}
	}
	// Create parent directories if they don't exist
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory for '%s': %v; falling back to stderr\n", logFile, err)
		return os.Stderr, func() {}
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file '%s': %v; falling back to stderr\n", logFile, err)
		return os.Stderr, func() {}
	}
	return file, func() { _ = file.Close() }
}

func newLogger(config *fileConfig) (*slog.Logger, func(), error) {
	if strings.EqualFold(config.LogLevel, "none") {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	options := &slog.HandlerOptions{
		AddSource: false,
		Level:     logLevelFromString(config.LogLevel),
	}
	switch strings.ToLower(config.LogFormat) {
	case "text", "json":
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", config.LogFormat)
	}
	writer, closeWriter := configureLogWriter(config.LogFile)
	if strings.EqualFold(config.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(writer, options)), closeWriter, nil
	}
	return slog.New(slog.NewTextHandler(writer, options)), closeWriter, nil
}

// session is a runtime with the demo classes installed and the preload
// scripts executed.
type session struct {
	runtime *awesome.Runtime
	logger  *slog.Logger
	config  *fileConfig
	cleanup func()
}

func (s *session) Close() {
	s.runtime.Close()
	s.cleanup()
}

func openSession(ctx context.Context, config *fileConfig) (*session, error) {
	policy, err := awesome.ParseMissPolicy(config.MissPolicy)
	if err != nil {
		return nil, err
	}
	logger, cleanup, err := newLogger(config)
	if err != nil {
		return nil, err
	}
	rt, err := awesome.NewRuntime(awesome.Config{
		MissPolicy:     policy,
		Logger:         logger,
		MaxParentDepth: config.MaxParentDepth,
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	s := &session{runtime: rt, logger: logger, config: config, cleanup: cleanup}
	if _, err := rt.Install(demoProviders()...); err != nil {
		s.Close()
		return nil, err
	}
	for _, path := range config.Preload {
		if err := rt.DoFile(ctx, path); err != nil {
			s.Close()
			return nil, fmt.Errorf("preload failed: %w", err)
		}
	}
	logger.Debug("runtime ready", "config", rt.ConfigSummary())
	return s, nil
}
