// Package config provides configuration loading, validation, and management
// for the assistant.
//
// A single global Config instance is maintained in memory, protected by a
// mutex. GetConfig returns the config by value so callers cannot mutate
// shared state; all updates go through Update* functions which validate
// before persisting. Runtime state (session cookies, learned rules, cache
// contents) never lives here; it belongs to the knowledge store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"sapassist/pkg/logx"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string // Immutable after LoadConfig
	logger     *logx.Logger
	mu         sync.RWMutex
)

const configFileName = "config.yaml"

// Provider identifiers for LLM clients.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
	ProviderMock      = "mock"
)

// Known model names used across the assistant.
const (
	ModelClaudeSonnet = "claude-sonnet-4-20250514"
	ModelGPT4o        = "gpt-4o"
	ModelGeminiFlash  = "gemini-2.0-flash"
	ModelLlama3       = "llama3.1"
)

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels registry contains pricing and provider information for common
// models. Unknown models fall back to provider defaults.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	ModelClaudeSonnet: {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	ModelGPT4o: {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	ModelGeminiFlash: {
		Provider:         ProviderGoogle,
		InputCPM:         0.1,
		OutputCPM:        0.4,
		MaxContextTokens: 1000000,
		MaxOutputTokens:  8192,
	},
	ModelLlama3: {
		Provider:         ProviderOllama,
		InputCPM:         0,
		OutputCPM:        0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
}

// SAPConfig holds Service Layer connection settings.
type SAPConfig struct {
	BaseURL        string        `yaml:"base_url"`
	CompanyDB      string        `yaml:"company_db"`
	Username       string        `yaml:"username"`
	DemoMode       bool          `yaml:"demo_mode"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	VerifyTLS      bool          `yaml:"verify_tls"`
}

// LLMConfig holds model selection settings.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	OllamaHost  string  `yaml:"ollama_host"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// WorkflowConfig holds pipeline tuning parameters.
type WorkflowConfig struct {
	MaxCorrectionRetries int           `yaml:"max_correction_retries"`
	MaxStateRetries      int           `yaml:"max_state_retries"`
	AnalysisEveryQueries int           `yaml:"analysis_every_queries"`
	AnalysisInterval     time.Duration `yaml:"analysis_interval"`
	IntentThreshold      float64       `yaml:"intent_threshold"`
	RiskThreshold        float64       `yaml:"risk_threshold"`
}

// StorageConfig holds paths for persistent artifacts.
type StorageConfig struct {
	KnowledgeDB   string `yaml:"knowledge_db"`
	RegistryCache string `yaml:"registry_cache"`
	ReportsDir    string `yaml:"reports_dir"`
	TicketsDir    string `yaml:"tickets_dir"`
}

// MailboxConfig holds invoice agent settings.
type MailboxConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Maildir             string        `yaml:"maildir"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	SupportEmail        string        `yaml:"support_email"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listen_addr"`
	PrometheusURL string `yaml:"prometheus_url"`
}

// Config is the root configuration document.
type Config struct {
	SAP      SAPConfig      `yaml:"sap"`
	LLM      LLMConfig      `yaml:"llm"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Storage  StorageConfig  `yaml:"storage"`
	Mailbox  MailboxConfig  `yaml:"mailbox"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// DefaultConfig returns a config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		SAP: SAPConfig{
			BaseURL:        "https://localhost:50000/b1s/v1",
			CompanyDB:      "SBODEMOFR",
			Username:       "manager",
			DemoMode:       false,
			RequestTimeout: 30 * time.Second,
			SessionTTL:     30 * time.Minute,
			CacheTTL:       300 * time.Second,
			VerifyTLS:      false,
		},
		LLM: LLMConfig{
			Provider:    ProviderAnthropic,
			Model:       ModelClaudeSonnet,
			OllamaHost:  "http://localhost:11434",
			MaxTokens:   4096,
			Temperature: 0.1,
		},
		Workflow: WorkflowConfig{
			MaxCorrectionRetries: 2,
			MaxStateRetries:      3,
			AnalysisEveryQueries: 20,
			AnalysisInterval:     time.Hour,
			IntentThreshold:      0.8,
			RiskThreshold:        0.6,
		},
		Storage: StorageConfig{
			KnowledgeDB:   "data/knowledge.db",
			RegistryCache: "data/registry_cache.json",
			ReportsDir:    "reports",
			TicketsDir:    "tickets",
		},
		Mailbox: MailboxConfig{
			Enabled:             false,
			Maildir:             "maildir",
			PollInterval:        time.Minute,
			ConfidenceThreshold: 0.7,
			SupportEmail:        "support@example.com",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddr:    ":9090",
			PrometheusURL: "http://localhost:9091",
		},
	}
}

// LoadConfig loads config.yaml from dir, creating it with defaults when
// missing. Environment variables override selected fields afterwards.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = dir
	cfg := DefaultConfig()

	path := filepath.Join(dir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		getLogger().Info("no config file at %s, writing defaults", path)
		if err := writeConfigLocked(dir, cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("failed to read config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	config = cfg
	return nil
}

// applyEnvOverrides maps environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SAP_BASE_URL"); v != "" {
		cfg.SAP.BaseURL = v
	}
	if v := os.Getenv("SAP_COMPANY_DB"); v != "" {
		cfg.SAP.CompanyDB = v
	}
	if v := os.Getenv("SAP_USERNAME"); v != "" {
		cfg.SAP.Username = v
	}
	if v := os.Getenv("SAP_DEMO_MODE"); v == "1" || strings.EqualFold(v, "true") {
		cfg.SAP.DemoMode = true
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.LLM.OllamaHost = v
	}
}

func validate(cfg *Config) error {
	if cfg.SAP.BaseURL == "" {
		return fmt.Errorf("sap.base_url must not be empty")
	}
	if !strings.HasPrefix(cfg.SAP.BaseURL, "http") {
		return fmt.Errorf("sap.base_url must be an http(s) URL, got %q", cfg.SAP.BaseURL)
	}
	switch cfg.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGoogle, ProviderMock:
	default:
		return fmt.Errorf("unknown llm.provider %q", cfg.LLM.Provider)
	}
	if cfg.Workflow.MaxCorrectionRetries < 0 {
		return fmt.Errorf("workflow.max_correction_retries must be >= 0")
	}
	if cfg.Workflow.IntentThreshold <= 0 || cfg.Workflow.IntentThreshold > 1 {
		return fmt.Errorf("workflow.intent_threshold must be in (0, 1]")
	}
	if cfg.Workflow.AnalysisEveryQueries <= 0 {
		return fmt.Errorf("workflow.analysis_every_queries must be positive")
	}
	if cfg.Workflow.AnalysisInterval <= 0 {
		return fmt.Errorf("workflow.analysis_interval must be positive")
	}
	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	return nil
}

func writeConfigLocked(dir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dir, configFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfig returns the current config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return Config{}, fmt.Errorf("config not loaded, call LoadConfig first")
	}
	return *config, nil
}

// GetProjectDir returns the directory LoadConfig was called with.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// UpdateSAP atomically replaces the SAP section after validation.
func UpdateSAP(sap *SAPConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded")
	}

	candidate := *config
	candidate.SAP = *sap
	if err := validate(&candidate); err != nil {
		return err
	}

	config = &candidate
	return writeConfigLocked(projectDir, config)
}

// UpdateLLM atomically replaces the LLM section after validation.
func UpdateLLM(llm *LLMConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded")
	}

	candidate := *config
	candidate.LLM = *llm
	if err := validate(&candidate); err != nil {
		return err
	}

	config = &candidate
	return writeConfigLocked(projectDir, config)
}

// ResetForTest clears the singleton so tests can reload cleanly.
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	config = nil
	projectDir = ""
}
