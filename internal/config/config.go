package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigRelPath = ".capgen/config.yaml"

type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

type ExtractionConfig struct {
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	DescriptionLimit int     `yaml:"description_limit"`
}

type GenerationConfig struct {
	Model       string  `yaml:"model"`
	Utterances  int     `yaml:"utterances"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type JudgeConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type DataConfig struct {
	DocsDir   string `yaml:"docs_dir"`
	OutputDir string `yaml:"output_dir"`
	DBPath    string `yaml:"db_path"`
}

type SelectConfig struct {
	PerCategory         int `yaml:"per_category"`
	MaxMethods          int `yaml:"max_methods"`
	MinDescriptionWords int `yaml:"min_description_words"`
}

type SanitizeConfig struct {
	Parameters  []string `yaml:"parameters"`
	Replacement string   `yaml:"replacement"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Generation GenerationConfig `yaml:"generation"`
	Judge      JudgeConfig      `yaml:"judge"`
	Data       DataConfig       `yaml:"data"`
	Select     SelectConfig     `yaml:"select"`
	Sanitize   SanitizeConfig   `yaml:"sanitize"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DefaultPath is ~/.capgen/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

// Default returns a config with every default applied, including the sampling
// temperatures that SetDefaults leaves alone because zero is meaningful for them.
func Default() *Config {
	c := &Config{}
	c.Extraction.Temperature = 0
	c.Generation.Temperature = 0.3
	c.SetDefaults()
	return c
}

// LoadDotEnv loads a .env file from the working directory; a missing file is fine.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	// derived from output_dir once overrides are in
	cfg.Data.DBPath = ""

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

// Save writes c as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) SetDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4.1-mini"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 5
	}
	if c.LLM.RetryDelay == 0 {
		c.LLM.RetryDelay = 10 * time.Second
	}
	if c.Extraction.MaxTokens == 0 {
		c.Extraction.MaxTokens = 1000
	}
	if c.Extraction.DescriptionLimit == 0 {
		c.Extraction.DescriptionLimit = 4000
	}
	if c.Generation.Utterances == 0 {
		c.Generation.Utterances = 10
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = 3000
	}
	if c.Judge.MaxTokens == 0 {
		c.Judge.MaxTokens = 500
	}
	if c.Data.DocsDir == "" {
		c.Data.DocsDir = "./dataset/tools"
	}
	if c.Data.OutputDir == "" {
		c.Data.OutputDir = "./output"
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = filepath.Join(c.Data.OutputDir, "capgen.db")
	}
	if c.Select.PerCategory == 0 {
		c.Select.PerCategory = 5
	}
	if c.Select.MaxMethods == 0 {
		c.Select.MaxMethods = 30
	}
	if c.Select.MinDescriptionWords == 0 {
		c.Select.MinDescriptionWords = 5
	}
	if len(c.Sanitize.Parameters) == 0 {
		c.Sanitize.Parameters = []string{"api_key", "apikey", "key", "token", "access_token", "secret", "password", "authorization"}
	}
	if c.Sanitize.Replacement == "" {
		c.Sanitize.Replacement = "***REDACTED***"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Data.OutputDir) == "" {
		return errors.New("data.output_dir cannot be empty")
	}
	if err := ensureWritableDir(c.Data.OutputDir); err != nil {
		return fmt.Errorf("data.output_dir not writable: %w", err)
	}
	if c.Generation.Utterances < 1 {
		return errors.New("generation.utterances must be positive")
	}
	if c.Extraction.Temperature < 0 || c.Extraction.Temperature > 2 || c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return errors.New("temperature must be within [0, 2]")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ValidateLLM enforces requirements of the stages that call the completion service.
func (c *Config) ValidateLLM() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key cannot be empty")
	}
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return errors.New("llm.base_url cannot be empty")
	}
	return nil
}

// ValidateSource checks that the documentation directory exists.
func (c *Config) ValidateSource() error {
	info, err := os.Stat(c.Data.DocsDir)
	if err != nil {
		return fmt.Errorf("data.docs_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data.docs_dir %s is not a directory", c.Data.DocsDir)
	}
	return nil
}

// ParseLevel maps a log level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func applyEnvOverrides(c *Config) {
	setString(&c.LLM.Provider, "CAPGEN_LLM_PROVIDER")
	setString(&c.LLM.APIKey, "CAPGEN_LLM_API_KEY")
	if c.LLM.APIKey == "" {
		setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	}
	setString(&c.LLM.BaseURL, "CAPGEN_LLM_BASE_URL")
	setString(&c.LLM.Model, "CAPGEN_LLM_MODEL")
	setDuration(&c.LLM.Timeout, "CAPGEN_LLM_TIMEOUT")
	setInt(&c.LLM.MaxRetries, "CAPGEN_LLM_MAX_RETRIES")
	setDuration(&c.LLM.RetryDelay, "CAPGEN_LLM_RETRY_DELAY")
	setInt(&c.LLM.RequestsPerMinute, "CAPGEN_LLM_REQUESTS_PER_MINUTE")
	setFloat(&c.Extraction.Temperature, "CAPGEN_EXTRACTION_TEMPERATURE")
	setInt(&c.Generation.Utterances, "CAPGEN_GENERATION_UTTERANCES")
	setFloat(&c.Generation.Temperature, "CAPGEN_GENERATION_TEMPERATURE")
	setString(&c.Data.DocsDir, "CAPGEN_DOCS_DIR")
	setString(&c.Data.OutputDir, "CAPGEN_OUTPUT_DIR")
	setString(&c.Data.DBPath, "CAPGEN_DB_PATH")
	setString(&c.Server.Host, "CAPGEN_SERVER_HOST")
	setInt(&c.Server.Port, "CAPGEN_SERVER_PORT")
	setString(&c.Log.Level, "CAPGEN_LOG_LEVEL")
	setString(&c.Log.Format, "CAPGEN_LOG_FORMAT")
	setString(&c.Metrics.Textfile, "CAPGEN_METRICS_TEXTFILE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
