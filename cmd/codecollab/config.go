package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"codecollab/internal/security"
	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Host             string        `env:"HOST,default=0.0.0.0"`
	Port             int           `env:"PORT,default=3000"`
	ClientURL        string        `env:"CLIENT_URL"`
	CleanupDelay     time.Duration `env:"SESSION_CLEANUP_DELAY,default=1h"`
	AuditPath        string        `env:"AUDIT_PATH"`
	RateLimitPerMin  int           `env:"RATE_LIMIT_PER_MIN,default=1200"`
	SendBuffer       int           `env:"SEND_BUFFER,default=256"`
	StaticDir        string        `env:"STATIC_DIR"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
	LogFormat        string        `env:"LOG_FORMAT,default=json"`
	TraceExporter    string        `env:"TRACE_EXPORTER,default=none"`
	TraceFile        string        `env:"TRACE_FILE"`
	TraceSampleRatio float64       `env:"TRACE_SAMPLE_RATIO,default=1"`
}

// loadConfig reads an optional .env file and then the process environment.
func loadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) AllowedOrigins() ([]string, error) {
	return security.NormalizeOrigins(security.ParseCSV(c.ClientURL))
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	if c.CleanupDelay <= 0 {
		return fmt.Errorf("config: SESSION_CLEANUP_DELAY must be positive")
	}
	if _, err := c.AllowedOrigins(); err != nil {
		return fmt.Errorf("config: CLIENT_URL: %w", err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: invalid LOG_FORMAT %q", c.LogFormat)
	}
	switch strings.ToLower(c.TraceExporter) {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("config: invalid TRACE_EXPORTER %q", c.TraceExporter)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("config: TRACE_SAMPLE_RATIO must be within [0,1]")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q", s)
	}
	return lvl, nil
}

func setupLogger(cfg Config) {
	lvl, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
