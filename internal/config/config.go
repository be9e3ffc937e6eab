// Package config loads apiharvest settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Fatal configuration errors. They are reported before any run starts.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidPath       = errors.New("invalid path")
)

// Config holds all configuration values.
type Config struct {
	// GitHub
	GitHubToken  string
	GitHubAPIURL string // empty for api.github.com

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Artifacts go to DataDir unless S3Bucket is set.
	DataDir     string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	// Crawl defaults, overridable per command.
	MinScore    int
	MaxResults  int
	Concurrency int

	CategoriesFile string // empty for the built-in table
	Theme          string

	// Server
	ServerHost   string
	ServerPort   int
	CronSchedule string // empty disables scheduled runs

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		GitHubToken:  getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL: getEnv("GITHUB_API_URL", ""),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "apiharvest"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "catalog"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		DataDir:     getEnv("APIHARVEST_DATA_DIR", "./data"),
		S3Bucket:    getEnv("APIHARVEST_S3_BUCKET", ""),
		S3Prefix:    getEnv("APIHARVEST_S3_PREFIX", ""),
		S3Region:    getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:  getEnv("APIHARVEST_S3_ENDPOINT", ""),
		S3AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3PathStyle: getEnv("APIHARVEST_S3_PATH_STYLE", "false") == "true",

		MinScore:    getInt("APIHARVEST_MIN_SCORE", 10),
		MaxResults:  getInt("APIHARVEST_MAX_RESULTS", 100),
		Concurrency: getInt("APIHARVEST_CONCURRENCY", 1),

		CategoriesFile: getEnv("APIHARVEST_CATEGORIES_FILE", ""),
		Theme:          getEnv("APIHARVEST_THEME", "light"),

		ServerHost:   getEnv("APIHARVEST_HOST", "0.0.0.0"),
		ServerPort:   getInt("APIHARVEST_PORT", 8484),
		CronSchedule: getEnv("APIHARVEST_SCHEDULE", ""),

		LogFile:  getEnv("APIHARVEST_LOG_FILE", "/tmp/apiharvest.log"),
		LogLevel: parseLogLevel(getEnv("APIHARVEST_LOG_LEVEL", "INFO")),
	}
}

// Validate reports fatal configuration errors. requireToken is set for
// commands that call the GitHub API.
func (c Config) Validate(requireToken bool) error {
	if requireToken && c.GitHubToken == "" {
		return fmt.Errorf("%w: GITHUB_TOKEN is not set", ErrMissingCredential)
	}
	if c.CategoriesFile != "" {
		if _, err := os.Stat(c.CategoriesFile); err != nil {
			return fmt.Errorf("%w: categories file: %v", ErrInvalidPath, err)
		}
	}
	if c.S3Bucket != "" {
		return nil
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is empty", ErrInvalidPath)
	}
	if info, err := os.Stat(c.DataDir); err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, c.DataDir)
	}
	return nil
}

// Addr returns the server listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
