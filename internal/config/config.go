// Package config loads server configuration from flags, environment variables and a .env file.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Storage StorageConfig
	Library LibraryConfig
	Server  ServerConfig
	Reader  ReaderConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// StorageConfig selects and locates the annotation store.
type StorageConfig struct {
	Backend  string // badger or sqlite
	BasePath string // data directory; the database and search index live below it
}

// DatabasePath is where the selected backend keeps its files.
func (s StorageConfig) DatabasePath() string {
	if s.Backend == BackendSQLite {
		return filepath.Join(s.BasePath, "alexandria.db")
	}
	return filepath.Join(s.BasePath, "db")
}

// SearchIndexPath is the bleve index directory.
func (s StorageConfig) SearchIndexPath() string {
	return filepath.Join(s.BasePath, "search")
}

const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// LibraryConfig locates the EPUB library.
type LibraryConfig struct {
	BooksPath   string // may be empty: the catalog is then only fed through the CLI
	Watch       bool
	SettleDelay time.Duration
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	RateLimit    float64 // requests per second per client address, 0 disables
	RateBurst    int
}

// ReaderConfig tunes rendering sessions and reconciliation.
type ReaderConfig struct {
	// SettleDelay is how long reconciliation waits after a render before re-applying highlights.
	SettleDelay time.Duration
	// ResizeDebounce coalesces container resizes.
	ResizeDebounce time.Duration
	// SessionIdleTimeout reaps preview sessions nobody has touched.
	SessionIdleTimeout time.Duration
	FontSize           int
	FontFamily         string
	TextAlign          string
	Theme              string
	// ThemesFile overrides the embedded theme presets when set.
	ThemesFile string
	// ViewportWidth and ViewportHeight size headless sessions.
	ViewportWidth  int
	ViewportHeight int
}

// Load parses args (typically os.Args[1:]) and resolves every setting with precedence:
// flag, then environment variable, then .env file, then default.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("alexandria", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	backend := fs.String("storage-backend", "", "Annotation store backend (badger, sqlite)")
	dataPath := fs.String("data-path", "", "Base path for persistent data")

	booksPath := fs.String("books-path", "", "Path to the EPUB library")
	watchLibrary := fs.String("watch-library", "", "Watch the library for changes (default: true)")
	librarySettle := fs.String("library-settle", "", "Quiet period before a changed file is loaded (default: 2s)")

	port := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 0, streams stay open)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := fs.String("cors-origins", "", "Comma separated allowed origins (default: *)")
	rateLimit := fs.String("rate-limit", "", "Requests per second per client (default: 20)")
	rateBurst := fs.String("rate-burst", "", "Burst size per client (default: 40)")

	settleDelay := fs.String("settle-delay", "", "Delay between render and highlight reconciliation (default: 100ms)")
	resizeDebounce := fs.String("resize-debounce", "", "Resize debounce window (default: 100ms)")
	sessionIdle := fs.String("session-idle-timeout", "", "Idle preview session lifetime (default: 30m)")
	fontSize := fs.String("font-size", "", "Default font size percent (default: 100)")
	fontFamily := fs.String("font-family", "", "Default font family (lexend, georgia, helvetica, times)")
	textAlign := fs.String("text-align", "", "Default text alignment (left, justify, center)")
	theme := fs.String("theme", "", "Default theme preset (default: light)")
	themesFile := fs.String("themes-file", "", "YAML file overriding the theme presets")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App:    AppConfig{Environment: getConfigValue(*env, "ENV", "development")},
		Logger: LoggerConfig{Level: getConfigValue(*logLevel, "LOG_LEVEL", "info")},
		Storage: StorageConfig{
			Backend:  strings.ToLower(getConfigValue(*backend, "STORAGE_BACKEND", BackendBadger)),
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Library: LibraryConfig{
			BooksPath: getConfigValue(*booksPath, "BOOKS_PATH", ""),
			Watch:     getBoolConfigValue(*watchLibrary, "WATCH_LIBRARY", true),
		},
		Server: ServerConfig{
			Port:        getConfigValue(*port, "SERVER_PORT", "8080"),
			CORSOrigins: splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "*")),
			RateBurst:   getIntConfigValue(*rateBurst, "RATE_BURST", 40),
		},
		Reader: ReaderConfig{
			FontSize:       getIntConfigValue(*fontSize, "READER_FONT_SIZE", 100),
			FontFamily:     getConfigValue(*fontFamily, "READER_FONT_FAMILY", "georgia"),
			TextAlign:      getConfigValue(*textAlign, "READER_TEXT_ALIGN", "left"),
			Theme:          getConfigValue(*theme, "READER_THEME", "light"),
			ThemesFile:     getConfigValue(*themesFile, "READER_THEMES_FILE", ""),
			ViewportWidth:  getIntConfigValue("", "READER_VIEWPORT_WIDTH", 800),
			ViewportHeight: getIntConfigValue("", "READER_VIEWPORT_HEIGHT", 1000),
		},
	}

	rate, err := strconv.ParseFloat(getConfigValue(*rateLimit, "RATE_LIMIT", "20"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}
	cfg.Server.RateLimit = rate

	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Library.SettleDelay, *librarySettle, "LIBRARY_SETTLE", "2s"},
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "0s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Reader.SettleDelay, *settleDelay, "READER_SETTLE_DELAY", "100ms"},
		{&cfg.Reader.ResizeDebounce, *resizeDebounce, "READER_RESIZE_DEBOUNCE", "100ms"},
		{&cfg.Reader.SessionIdleTimeout, *sessionIdle, "READER_SESSION_IDLE_TIMEOUT", "30m"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, d.fallback)
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(d.envKey), raw, err)
		}
		*d.dst = v
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Validate checks that the resolved configuration is usable.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	case "":
		return errors.New("ENV is required")
	default:
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Storage.Backend != BackendBadger && c.Storage.Backend != BackendSQLite {
		return fmt.Errorf("invalid storage backend: %s (must be badger or sqlite)", c.Storage.Backend)
	}
	if c.Storage.BasePath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	if c.Reader.SettleDelay < 0 || c.Reader.ResizeDebounce < 0 {
		return errors.New("reader delays cannot be negative")
	}
	if c.Reader.FontSize < 50 || c.Reader.FontSize > 200 {
		return fmt.Errorf("invalid font size: %d (must be 50-200)", c.Reader.FontSize)
	}
	switch c.Reader.FontFamily {
	case "lexend", "georgia", "helvetica", "times":
	default:
		return fmt.Errorf("invalid font family: %s", c.Reader.FontFamily)
	}
	switch c.Reader.TextAlign {
	case "left", "justify", "center":
	default:
		return fmt.Errorf("invalid text alignment: %s", c.Reader.TextAlign)
	}
	if c.Server.RateLimit < 0 {
		return errors.New("rate limit cannot be negative")
	}
	return nil
}

func (c *Config) expandPaths() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	data, err := expandPath(c.Storage.BasePath, filepath.Join(home, "Alexandria", "data"))
	if err != nil {
		return fmt.Errorf("invalid data path: %w", err)
	}
	c.Storage.BasePath = data

	if c.Library.BooksPath != "" {
		books, err := expandPath(c.Library.BooksPath, "")
		if err != nil {
			return fmt.Errorf("invalid books path: %w", err)
		}
		c.Library.BooksPath = books
	}

	if c.Reader.ThemesFile != "" {
		themes, err := expandPath(c.Reader.ThemesFile, "")
		if err != nil {
			return fmt.Errorf("invalid themes file: %w", err)
		}
		c.Reader.ThemesFile = themes
	}
	return nil
}

// expandPath expands a leading ~ and makes path absolute. An empty path yields defaultPath.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, rest)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return abs, nil
}

func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envKey != "" {
		if v := os.Getenv(envKey); v != "" {
			return v
		}
	}
	return defaultValue
}

// getBoolConfigValue treats "true", "1" and "yes" (any case) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	v := getConfigValue(flagValue, envKey, "")
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	v := getConfigValue(flagValue, envKey, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile sets KEY=value pairs from path without overriding variables already in the environment.
func loadEnvFile(path string) error {
	f, err := os.Open(path) //#nosec G304 -- operator supplied path
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", n, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}
	return sc.Err()
}
