package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file layered between defaults and environment.
const ConfigFileEnv = "MEDSUM_CONFIG"

// Config holds all application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Files     FilesConfig     `yaml:"files"`
	OCR       OCRConfig       `yaml:"ocr"`
	Policy    PolicyConfig    `yaml:"policy"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" validate:"required"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// StorageConfig selects and tunes the job store.
type StorageConfig struct {
	Driver           string        `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	DSN              string        `yaml:"dsn" validate:"required_unless=Driver memory"`
	MaxConns         int32         `yaml:"max_conns" validate:"gte=0"`
	MinConns         int32         `yaml:"min_conns" validate:"gte=0"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// FilesConfig controls where uploads live and whether they are encrypted.
type FilesConfig struct {
	UploadDir      string `yaml:"upload_dir" validate:"required"`
	ScratchDir     string `yaml:"scratch_dir"`
	EncryptionKey  string `yaml:"encryption_key"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" validate:"gt=0"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Pdftoppm      string `yaml:"pdftoppm"`
	Tesseract     string `yaml:"tesseract"`
	TesseractLang string `yaml:"tesseract_lang"`
	TessdataDir   string `yaml:"tessdata_dir"`
	DPI           int    `yaml:"dpi" validate:"gte=0"`
	MaxPages      int    `yaml:"max_pages" validate:"gte=0"`
}

// PolicyConfig holds the PHI processing policy.
type PolicyConfig struct {
	AllowExternalProcessing bool `yaml:"allow_external_processing"`
}

// ProvidersConfig configures each model provider; a provider with incomplete settings is not registered.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
	Llama  LlamaConfig  `yaml:"llama"`
}

type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type LlamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// PipelineConfig bounds job execution.
type PipelineConfig struct {
	MaxConcurrent   int64         `yaml:"max_concurrent" validate:"gte=0"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" validate:"gt=0"`
}

// InboxConfig drives the watched drop directory.
type InboxConfig struct {
	Dir          string        `yaml:"dir"`
	AutoProvider string        `yaml:"auto_provider" validate:"omitempty,oneof=openai gemini llama"`
	Consent      bool          `yaml:"consent"`
	Debounce     time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
		Storage: StorageConfig{
			Driver:          "sqlite",
			DSN:             "file:medsummary.db",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Files: FilesConfig{
			UploadDir:      "./data/uploads",
			MaxUploadBytes: 25 << 20,
		},
		OCR: OCRConfig{
			Pdftoppm:      "pdftoppm",
			Tesseract:     "tesseract",
			TesseractLang: "eng",
			DPI:           300,
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
			Gemini: GeminiConfig{Model: "gemini-1.5-flash"},
			Llama:  LlamaConfig{Model: "llama3.1"},
		},
		Pipeline: PipelineConfig{
			ProviderTimeout: 90 * time.Second,
		},
		Inbox: InboxConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file and environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("read config file %s", path), err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("parse config file %s", path), err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))

	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)

	c.Storage.Driver = strings.ToLower(getEnv("STORAGE_DRIVER", c.Storage.Driver))
	c.Storage.DSN = getEnv("DB_URL", c.Storage.DSN)
	c.Storage.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Storage.MaxConns)
	c.Storage.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Storage.MinConns)
	c.Storage.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Storage.MaxConnLifetime)
	c.Storage.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Storage.MaxConnIdleTime)
	c.Storage.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Storage.DialTimeout)
	c.Storage.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Storage.StatementTimeout)

	c.Files.UploadDir = getEnv("UPLOAD_DIR", c.Files.UploadDir)
	c.Files.ScratchDir = getEnv("SCRATCH_DIR", c.Files.ScratchDir)
	c.Files.EncryptionKey = getEnv("ENCRYPTION_KEY", c.Files.EncryptionKey)
	c.Files.MaxUploadBytes = getEnvAsInt64("MAX_UPLOAD_BYTES", c.Files.MaxUploadBytes)

	c.OCR.Pdftoppm = getEnv("PDFTOPPM", c.OCR.Pdftoppm)
	c.OCR.Tesseract = getEnv("TESSERACT", c.OCR.Tesseract)
	c.OCR.TesseractLang = getEnv("TESSERACT_LANG", c.OCR.TesseractLang)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)
	c.OCR.DPI = getEnvAsInt("OCR_DPI", c.OCR.DPI)
	c.OCR.MaxPages = getEnvAsInt("OCR_MAX_PAGES", c.OCR.MaxPages)

	c.Policy.AllowExternalProcessing = getEnvAsBool("ALLOW_EXTERNAL_PROCESSING", c.Policy.AllowExternalProcessing)

	c.Providers.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.Providers.OpenAI.APIKey)
	c.Providers.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.Providers.OpenAI.BaseURL)
	c.Providers.OpenAI.Model = getEnv("OPENAI_MODEL", c.Providers.OpenAI.Model)
	c.Providers.OpenAI.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.Providers.OpenAI.Temperature)
	c.Providers.Gemini.APIKey = getEnv("GEMINI_API_KEY", c.Providers.Gemini.APIKey)
	c.Providers.Gemini.Model = getEnv("GEMINI_MODEL", c.Providers.Gemini.Model)
	c.Providers.Llama.BaseURL = getEnv("LLAMA_BASE_URL", c.Providers.Llama.BaseURL)
	c.Providers.Llama.Model = getEnv("LLAMA_MODEL", c.Providers.Llama.Model)

	c.Pipeline.MaxConcurrent = getEnvAsInt64("MAX_CONCURRENT_JOBS", c.Pipeline.MaxConcurrent)
	c.Pipeline.ProviderTimeout = getEnvAsDuration("PROVIDER_TIMEOUT", c.Pipeline.ProviderTimeout)

	c.Inbox.Dir = getEnv("INBOX_DIR", c.Inbox.Dir)
	c.Inbox.AutoProvider = strings.ToLower(getEnv("INBOX_PROVIDER", c.Inbox.AutoProvider))
	c.Inbox.Consent = getEnvAsBool("INBOX_CONSENT", c.Inbox.Consent)
	c.Inbox.Debounce = getEnvAsDuration("INBOX_DEBOUNCE", c.Inbox.Debounce)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return NewAppError("CONFIG_ERROR", "invalid configuration", err)
	}
	if c.Files.EncryptionKey != "" && len(c.Files.EncryptionKey) < 16 {
		return NewAppError("CONFIG_ERROR", "ENCRYPTION_KEY must be at least 16 characters", ErrInvalidInput)
	}
	return nil
}
