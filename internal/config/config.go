// internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Provider identifiers for the LLM factory.
const (
	ProviderGemini = "gemini"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMModelConfig configures one model endpoint.
type LLMModelConfig struct {
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens  int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopP       float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK       int           `mapstructure:"top_k" yaml:"top_k"`
}

// LLMConfig configures the model provider and the fast/powerful tiers.
type LLMConfig struct {
	Provider          string         `mapstructure:"provider" yaml:"provider"`
	RequestsPerMinute int            `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Fast              LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful          LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
}

// BrowserConfig controls the chromedp harness.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ChromePath        string        `mapstructure:"chrome_path" yaml:"chrome_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// EngineConfig bounds the convergence loop. MaxIterations caps the whole loop,
// technical retries included. VisualIterationCap additionally bounds the
// visual-defect branch; the source behavior kept the tighter bound there only,
// so the two are configured independently rather than special-cased.
type EngineConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	QuickMaxIterations int           `mapstructure:"quick_max_iterations" yaml:"quick_max_iterations"`
	VisualIterationCap int           `mapstructure:"visual_iteration_cap" yaml:"visual_iteration_cap"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ResetTimeout       time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	KeyPrefix          string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	PreviewKeyPrefix   string        `mapstructure:"preview_key_prefix" yaml:"preview_key_prefix"`
}

// DatabaseConfig configures optional run-history persistence. An empty DSN
// disables the store entirely.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// ReportConfig controls where and how run reports are written.
type ReportConfig struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	Formats []string `mapstructure:"formats" yaml:"formats"` // "json", "junit"
}

// SetDefaults registers the default value for every key on the given viper.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "converge")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.fast.model", "gemini-2.0-flash")
	v.SetDefault("llm.fast.api_timeout", 60*time.Second)
	v.SetDefault("llm.fast.max_tokens", 8192)
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", 120*time.Second)
	v.SetDefault("llm.powerful.max_tokens", 8192)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", 90*time.Second)

	v.SetDefault("engine.max_iterations", 5)
	v.SetDefault("engine.quick_max_iterations", 3)
	v.SetDefault("engine.visual_iteration_cap", 3)
	v.SetDefault("engine.settle_delay", 1500*time.Millisecond)
	v.SetDefault("engine.reset_timeout", 5*time.Second)
	v.SetDefault("engine.key_prefix", "converge-var")
	v.SetDefault("engine.preview_key_prefix", "converge-preview")

	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.formats", []string{"json"})
}

// Load reads the configuration from the given file (or the default search
// paths when empty), layers environment variables on top, and validates the
// result.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".converge"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CONVERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults plus env vars still make a valid config.
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates a configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be at least 1, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.QuickMaxIterations < 1 {
		return fmt.Errorf("engine.quick_max_iterations must be at least 1, got %d", c.Engine.QuickMaxIterations)
	}
	if c.Engine.VisualIterationCap < 1 {
		return fmt.Errorf("engine.visual_iteration_cap must be at least 1, got %d", c.Engine.VisualIterationCap)
	}
	if c.Engine.KeyPrefix == "" {
		return fmt.Errorf("engine.key_prefix must not be empty")
	}
	if c.LLM.Provider != ProviderGemini {
		return fmt.Errorf("unknown llm.provider %q (supported: %s)", c.LLM.Provider, ProviderGemini)
	}
	for _, format := range c.Report.Formats {
		switch format {
		case "json", "junit":
		default:
			return fmt.Errorf("unknown report format %q (supported: json, junit)", format)
		}
	}
	return nil
}
