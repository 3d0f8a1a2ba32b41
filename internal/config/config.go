package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	_ "time/tzdata" // render.timeZone is validated against the embedded zone database

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for paychat.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Identity IdentityConfig `json:"identity"`
	Backend  BackendConfig  `json:"backend"`
	Gateway  GatewayConfig  `json:"gateway"`
	Dispatch DispatchConfig `json:"dispatch"`
	Render   RenderConfig   `json:"render"`
	Channels ChannelsConfig `json:"channels"`
	Store    StoreConfig    `json:"store"`
	Metrics  MetricsConfig  `json:"metrics"`
	Events   EventsConfig   `json:"events"`
	Server   ServerConfig   `json:"server"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" validate:"oneof=debug info warn error"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// IdentityConfig is the signed-in user; payments are sent as this person.
type IdentityConfig struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

// BackendConfig points at the payment backend (order creation, verification).
type BackendConfig struct {
	BaseURL        string `json:"baseUrl" validate:"required,url"`
	TimeoutSeconds int    `json:"timeoutSeconds" validate:"min=1,max=300"`
}

type GatewayConfig struct {
	Mode         string `json:"mode" validate:"oneof=browser simulated"` // "browser" | "simulated"
	KeyID        string `json:"keyId"`
	MerchantName string `json:"merchantName"`
	ThemeColor   string `json:"themeColor" validate:"omitempty,hexcolor"`
	ScriptURL    string `json:"scriptUrl" validate:"omitempty,url"`
	PageURL      string `json:"pageUrl,omitempty" validate:"omitempty,url"` // blank page the checkout runs in
	Headless     bool   `json:"headless"`
	ProfileDir   string `json:"profileDir,omitempty"`
	ChromePath   string `json:"chromePath,omitempty"`
	// KeySecret signs simulated checkouts so the reference backend verifies them.
	KeySecret string `json:"keySecret,omitempty"`
}

type DispatchConfig struct {
	DelayMs int    `json:"delayMs" validate:"min=0,max=600000"`
	Channel string `json:"channel"` // default transport for `pay`
	ChatID  string `json:"chatId,omitempty"`
}

type RenderConfig struct {
	TimeZone string `json:"timeZone" validate:"timezone"`
}

type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Slack     SlackConfig     `json:"slack"`
	Discord   DiscordConfig   `json:"discord"`
	WebSocket WebSocketConfig `json:"websocket"`
	Webhook   WebhookConfig   `json:"webhook"`
	CLI       CLIConfig       `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token" validate:"required_if=Enabled true"`
	ParseMode string `json:"parseMode"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken" validate:"required_if=Enabled true"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token" validate:"required_if=Enabled true"`
	GuildID string `json:"guildId,omitempty"` // optional: register commands in one guild
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url" validate:"required_if=Enabled true,omitempty,url"`
	Secret  string `json:"secret,omitempty"`
	Addr    string `json:"addr,omitempty"` // inbound receiver; empty disables it
	Path    string `json:"path,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath" validate:"required_if=Enabled true"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint" validate:"startswith=/"`
}

// EventsConfig configures where payment events are mirrored.
type EventsConfig struct {
	Redis RedisStreamConfig `json:"redis"`
}

// RedisStreamConfig publishes bus events to a Redis stream.
type RedisStreamConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db" validate:"min=0,max=15"`
	Stream   string `json:"stream"`
	MaxLen   int64  `json:"maxLen" validate:"min=0"`
}

// ServerConfig configures the reference backend served by `paychat serve`.
type ServerConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port" validate:"min=0,max=65535"`
	RazorpayKeyID     string `json:"razorpayKeyId,omitempty"`
	RazorpayKeySecret string `json:"razorpayKeySecret,omitempty"`
	Currency          string `json:"currency" validate:"len=3"`
}

// DefaultConfigDir returns the default config directory (~/.paychat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".paychat"
	}
	return filepath.Join(home, ".paychat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// isYAML reports whether the path selects the YAML encoding.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Gateway.ProfileDir = ExpandPath(cfg.Gateway.ProfileDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so the json tags stay the
// single source of key names.
func yamlToJSON(data []byte) ([]byte, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes the config as JSON, or YAML when the path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(yamlNumbers(m)); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	// Config holds secrets (bot tokens, key secrets).
	return os.WriteFile(path, data, 0o600)
}

// yamlNumbers replaces json.Number values with int64 or float64 so yaml writes
// them as plain scalars instead of quoted strings.
func yamlNumbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = yamlNumbers(e)
		}
	case []any:
		for i, e := range v {
			v[i] = yamlNumbers(e)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	}
	return v
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the config has valid values. All violations are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	if cfg.Gateway.Mode == "browser" && cfg.Gateway.KeyID == "" {
		errs = append(errs, "gateway.keyId is required in browser mode")
	}
	if cfg.Dispatch.Channel != "" && !knownChannel(cfg.Dispatch.Channel) {
		errs = append(errs, fmt.Sprintf("dispatch.channel references unknown channel: %s", cfg.Dispatch.Channel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func knownChannel(name string) bool {
	switch name {
	case "telegram", "slack", "discord", "websocket", "webhook", "cli", "memory":
		return true
	}
	return false
}

// describe turns a field error into "section.key must ..." text.
func describe(fe validator.FieldError) string {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", path, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be >= %s", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be <= %s", path, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be %s characters", path, fe.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", path, fe.Param())
	case "timezone":
		return fmt.Sprintf("%s is not a known time zone: %v", path, fe.Value())
	default:
		return fmt.Sprintf("%s is not a valid %s", path, fe.Tag())
	}
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
