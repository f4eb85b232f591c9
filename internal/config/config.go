package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/relaywing/relaywing/internal/events"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relaywing.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// GatewayConfig describes runtime options for the gateway daemon. Values are
// layered: config/setting.ini defaults, then config/<env>/relaywing.ini, then
// RELAYWING_* environment variables.
type GatewayConfig struct {
	Environment string
	ListenAddr  string

	// Routing
	BackendMode  string // native|openai|alt
	FallbackMode string // used when backend_mode is unrecognised
	TextModel    string
	VisionModel  string

	// Backend endpoints
	NativeBaseURL string
	NativeAPIKey  string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	AltBaseURL    string
	AltAPIKey     string

	// Request shaping
	ForceReasoning   bool
	DefaultMaxTokens int
	RequestTimeout   time.Duration
	StreamTimeout    time.Duration

	// Tools
	WebToolsEnabled        bool
	SearchURL              string
	WebMaxResults          int
	WebMaxBytes            int64
	WebTimeout             time.Duration
	ToolServersFile        string
	MaxToolIterations      int
	MaxConsecutiveInternal int
	ToolCallTimeout        time.Duration

	// Ledger
	LedgerDriver string // sqlite|postgres
	LedgerPath   string
	LedgerDSN    string
	LedgerAsync  bool

	// Rate limiting
	RateLimitEnabled bool
	RateLimitPerSec  float64
	RateLimitBurst   float64
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Logging
	LogFile     string
	LogLevel    string
	LogMaxBytes int64

	// Lifecycle event hooks
	Events events.Config
}

// LoadGatewayConfig reads the current environment and loads the appropriate
// gateway config file under root.
func LoadGatewayConfig(root string) (GatewayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return GatewayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return GatewayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	get := func(key string) string {
		env := "RELAYWING_" + strings.ToUpper(key)
		return firstNonEmpty(os.Getenv(env), merged[key])
	}

	cfg := GatewayConfig{
		Environment: s.Environment,
		ListenAddr:  firstNonEmpty(get("listen_addr"), ":8084"),

		BackendMode:  strings.ToLower(firstNonEmpty(get("backend_mode"), "openai")),
		FallbackMode: strings.ToLower(firstNonEmpty(get("fallback_mode"), "openai")),
		TextModel:    get("text_model"),
		VisionModel:  get("vision_model"),

		NativeBaseURL: get("native_base_url"),
		NativeAPIKey:  get("native_api_key"),
		OpenAIBaseURL: get("openai_base_url"),
		OpenAIAPIKey:  get("openai_api_key"),
		AltBaseURL:    get("alt_base_url"),
		AltAPIKey:     get("alt_api_key"),

		ForceReasoning:   parseBool(get("force_reasoning")),
		DefaultMaxTokens: parseOptionalInt(get("default_max_tokens"), 4096),

		WebToolsEnabled: parseBool(get("web_tools_enabled")),
		SearchURL:       get("search_url"),
		WebMaxResults:   parseOptionalInt(get("web_max_results"), 5),
		ToolServersFile: get("tool_servers_file"),

		MaxToolIterations:      parseOptionalInt(get("max_tool_iterations"), 10),
		MaxConsecutiveInternal: parseOptionalInt(get("max_consecutive_internal"), 5),

		LedgerDriver: strings.ToLower(firstNonEmpty(get("ledger_driver"), "sqlite")),
		LedgerPath:   firstNonEmpty(get("ledger_path"), DefaultLedgerPath()),
		LedgerDSN:    get("ledger_dsn"),
		LedgerAsync:  parseOptionalBool(get("ledger_async"), true),

		RateLimitEnabled: parseBool(get("ratelimit_enabled")),
		RateLimitPerSec:  parseOptionalFloat(get("ratelimit_per_sec"), 10),
		RateLimitBurst:   parseOptionalFloat(get("ratelimit_burst"), 30),
		RedisAddr:        get("ratelimit_redis_addr"),
		RedisPassword:    get("ratelimit_redis_password"),
		RedisDB:          parseOptionalInt(get("ratelimit_redis_db"), 0),

		LogFile:     get("log_file"),
		LogLevel:    firstNonEmpty(get("log_level"), "info"),
		LogMaxBytes: int64(parseOptionalInt(get("log_max_mb"), 300)) * 1024 * 1024,
	}

	var parseErr error
	durationOf := func(key, fallback string) time.Duration {
		v := firstNonEmpty(get(key), fallback)
		d, err := time.ParseDuration(v)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return d
	}
	cfg.RequestTimeout = durationOf("request_timeout", "2m")
	cfg.StreamTimeout = durationOf("stream_timeout", "5m")
	cfg.ToolCallTimeout = durationOf("tool_call_timeout", "30s")
	cfg.WebTimeout = durationOf("web_timeout", "15s")
	if parseErr != nil {
		return GatewayConfig{}, parseErr
	}

	cfg.WebMaxBytes = int64(parseOptionalInt(get("web_max_kb"), 512)) * 1024

	cfg.Events = events.Config{
		Enabled:    parseBool(get("events_enabled")),
		ScriptPath: get("events_script_path"),
		ScriptArgs: parseCSV(get("events_script_args")),
		Env:        parseMap(get("events_script_env")),
	}
	if v := get("events_timeout"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid events_timeout %q: %w", v, err)
		}
		cfg.Events.Timeout = dur
	}
	if err := cfg.Events.Validate(); err != nil {
		return GatewayConfig{}, err
	}

	switch cfg.BackendMode {
	case "native", "openai", "alt":
	default:
		// The bridge applies the fallback itself; normalise here so logs
		// show what will actually run.
		cfg.BackendMode = cfg.FallbackMode
	}

	switch cfg.LedgerDriver {
	case "sqlite", "postgres":
	default:
		return GatewayConfig{}, fmt.Errorf("unknown ledger_driver %q", cfg.LedgerDriver)
	}
	if cfg.LedgerDriver == "postgres" && strings.TrimSpace(cfg.LedgerDSN) == "" {
		return GatewayConfig{}, errors.New("ledger_dsn required for postgres ledger")
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultLedgerPath returns the fallback ledger location under the user's
// home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".relaywing", "ledger.db")
}
