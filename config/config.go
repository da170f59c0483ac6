package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TestnetRESTURL    = "https://testnet.binance.vision"
	TestnetWSURL      = "wss://testnet.binance.vision/ws"
	ProductionRESTURL = "https://api.binance.com"
	ProductionWSURL   = "wss://stream.binance.com:9443/ws"
)

const (
	DefaultPort        = 8080
	DefaultCORSOrigin  = "*"
	DefaultHTTPTimeout = 10 * time.Second
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

type Config struct {
	Port        int             `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigin  string          `yaml:"cors_origin" validate:"required"`
	Testnet     bool            `yaml:"testnet"`
	Binance     BinanceConfig   `yaml:"binance"`
	BasicAuth   BasicAuthConfig `yaml:"basic_auth"`
	HTTPTimeout time.Duration   `yaml:"http_timeout" validate:"min=1ms"`
	LogLevel    string          `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat   string          `yaml:"log_format" validate:"oneof=json console"`
}

type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	RESTURL   string `yaml:"rest_url" validate:"omitempty,url"`
	WSURL     string `yaml:"ws_url" validate:"omitempty,url"`
}

type BasicAuthConfig struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// Default returns the configuration used when nothing else is provided:
// testnet endpoints, port 8080 and a wildcard CORS origin.
func Default() Config {
	return Config{
		Port:        DefaultPort,
		CORSOrigin:  DefaultCORSOrigin,
		Testnet:     true,
		HTTPTimeout: DefaultHTTPTimeout,
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from defaults, the optional YAML file at path,
// a .env file in the working directory and the process environment, in that
// order of precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v, ok := lookup("CORS_ORIGIN"); ok && v != "" {
		c.CORSOrigin = v
	}
	if v, ok := lookup("BINANCE_TESTNET"); ok && v != "" {
		// anything other than the literal "true" selects production
		c.Testnet = v == "true"
	}
	if v, ok := lookup("BINANCE_API_KEY"); ok {
		c.Binance.APIKey = v
	}
	if v, ok := lookup("BINANCE_API_SECRET"); ok {
		c.Binance.APISecret = v
	}
	if v, ok := lookup("BINANCE_REST_URL"); ok && v != "" {
		c.Binance.RESTURL = v
	}
	if v, ok := lookup("BINANCE_WS_URL"); ok && v != "" {
		c.Binance.WSURL = v
	}
	if v, ok := lookup("BASIC_USER"); ok {
		c.BasicAuth.User = v
	}
	if v, ok := lookup("BASIC_PASS"); ok {
		c.BasicAuth.Pass = v
	}
	if v, ok := lookup("HTTP_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_TIMEOUT %q: %w", v, err)
		}
		c.HTTPTimeout = d
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Binance.RESTURL == "" {
		c.Binance.RESTURL = ProductionRESTURL
		if c.Testnet {
			c.Binance.RESTURL = TestnetRESTURL
		}
	}
	if c.Binance.WSURL == "" {
		c.Binance.WSURL = ProductionWSURL
		if c.Testnet {
			c.Binance.WSURL = TestnetWSURL
		}
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HasCredentials reports whether both the API key and secret are set.
func (c Config) HasCredentials() bool {
	return c.Binance.APIKey != "" && c.Binance.APISecret != ""
}

// BasicAuthEnabled reports whether the trading routes are gated by basic auth.
func (c Config) BasicAuthEnabled() bool {
	return c.BasicAuth.User != "" && c.BasicAuth.Pass != ""
}

func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}
