package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider kinds decide which wire protocol the caller speaks.
const (
	KindOpenAI = "openai" // OpenAI-compatible chat completions (OpenRouter, Groq)
	KindGemini = "gemini" // Google generateContent REST protocol
)

// ProviderConfig 单个后端的静态配置
// The slice order in Config.Providers is the fallback priority: first entry
// is tried first, and it never changes for the process lifetime.
type ProviderConfig struct {
	Name    string
	Kind    string
	BaseURL string
	Model   string
	Keys    []string
	Timeout time.Duration
	Vision  bool
}

// Config is the explicit configuration struct handed to the pool constructor.
// No package-level mutable settings object exists on purpose.
type Config struct {
	Providers []ProviderConfig

	Port         int
	AuthToken    string
	AdminToken   string
	PersistState bool
	StateDB      string
	SecretKey    string
	LogFile      string
	LogFileMaxMB int
	RateLimitRPS int
	RateBurst    int
}

// Load reads configuration from the environment (.env honored when present).
// Providers without a single key are skipped entirely, so the fallback chain
// only ever sees usable backends.
func Load() (*Config, error) {
	// Ignore the error: a missing .env just means plain env vars.
	_ = godotenv.Load()

	cfg := &Config{
		Port:         envInt("KEYRING_PORT", 8080),
		AuthToken:    os.Getenv("KEYRING_AUTH_TOKEN"),
		AdminToken:   os.Getenv("KEYRING_ADMIN_TOKEN"),
		PersistState: envBool("KEYRING_PERSIST_STATE", false),
		StateDB:      envStr("KEYRING_STATE_DB", "keyring.db"),
		SecretKey:    os.Getenv("KEYRING_SECRET_KEY"),
		LogFile:      os.Getenv("KEYRING_LOG_FILE"),
		LogFileMaxMB: envInt("KEYRING_LOG_FILE_MAX_MB", 20),
		RateLimitRPS: envInt("KEYRING_RATE_LIMIT_RPS", 10),
		RateBurst:    envInt("KEYRING_RATE_BURST", 20),
	}

	// Fallback order is fixed: OpenRouter -> Groq -> Gemini.
	candidates := []ProviderConfig{
		{
			Name:    "openrouter",
			Kind:    KindOpenAI,
			BaseURL: envStr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:   envStr("OPENROUTER_CHAT_MODEL", "google/gemma-3-27b-it:free"),
			Keys:    splitKeys(envStr("OPENROUTER_API_KEYS", os.Getenv("OPENROUTER_API_KEY"))),
			Timeout: envDuration("OPENROUTER_TIMEOUT", 120*time.Second),
			Vision:  true,
		},
		{
			Name:    "groq",
			Kind:    KindOpenAI,
			BaseURL: envStr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:   envStr("GROQ_CHAT_MODEL", "llama-3.3-70b-versatile"),
			Keys:    splitKeys(envStr("GROQ_API_KEYS", os.Getenv("GROQ_API_KEY"))),
			Timeout: envDuration("GROQ_TIMEOUT", 60*time.Second),
			Vision:  false,
		},
		{
			Name:    "gemini",
			Kind:    KindGemini,
			BaseURL: envStr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			Model:   envStr("GEMINI_CHAT_MODEL", "gemini-2.0-flash-exp"),
			Keys:    splitKeys(envStr("GEMINI_API_KEYS", os.Getenv("GEMINI_API_KEY"))),
			Timeout: envDuration("GEMINI_TIMEOUT", 120*time.Second),
			Vision:  true,
		},
	}

	for _, p := range candidates {
		if len(p.Keys) == 0 {
			continue
		}
		cfg.Providers = append(cfg.Providers, p)
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no provider credentials configured: set OPENROUTER_API_KEYS, GROQ_API_KEYS or GEMINI_API_KEYS")
	}

	return cfg, nil
}

// splitKeys parses a comma-separated key list, dropping empty entries and
// duplicates while preserving configuration order.
func splitKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	seen := make(map[string]bool)
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		k := strings.TrimSpace(part)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

func envStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are seconds, matching the old timeout fields.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
