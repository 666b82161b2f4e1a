package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required"`

	WeatherAPIKey     string        `validate:"required"`
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`

	RetryAttempts  int `validate:"gte=1"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerEnabled   bool
	BreakerThreshold uint32        `validate:"gte=1"`
	BreakerTimeout   time.Duration `validate:"gt=0"`

	CacheBackend          string `validate:"oneof=in_memory file sqlite postgres memcached"`
	CacheKey              string `validate:"required"`
	CacheFilePath         string
	SQLitePath            string
	PostgresDSN           string `validate:"required_if=CacheBackend postgres"`
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	LocationSource     string  `validate:"oneof=none static ip geocode"`
	LocationPermission string  `validate:"oneof=not_determined authorized denied restricted"`
	Latitude           float64 `validate:"gte=-90,lte=90"`
	Longitude          float64 `validate:"gte=-180,lte=180"`
	GeocoderAPIKey     string  `validate:"required_if=LocationSource geocode"`

	LocationIPURL        string
	LocationPollInterval time.Duration
	LocationStreet       string
	LocationCity         string
	LocationState        string
	LocationCountry      string

	RefreshInterval time.Duration
	DefaultCity     string
	CityMaxLength   int

	DisplayTimezone string

	RateLimitRPS   int `validate:"gte=1"`
	RateLimitBurst int `validate:"gte=1"`

	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Location returns the display timezone, falling back to time.Local when unset or unknown.
func (c *Config) Location() *time.Location {
	if c.DisplayTimezone == "" || strings.EqualFold(c.DisplayTimezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		BaseURL          string `yaml:"base_url"`
		Timeout          string `yaml:"timeout"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
	} `yaml:"weather_api"`

	CircuitBreaker struct {
		Enabled          bool   `yaml:"enabled"`
		FailureThreshold uint32 `yaml:"failure_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Cache struct {
		Backend string `yaml:"backend"`
		Key     string `yaml:"key"`
		File    struct {
			Path string `yaml:"path"`
		} `yaml:"file"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Location struct {
		Source       string  `yaml:"source"`
		Permission   string  `yaml:"permission"`
		Latitude     float64 `yaml:"latitude"`
		Longitude    float64 `yaml:"longitude"`
		IPURL        string  `yaml:"ip_url"`
		PollInterval string  `yaml:"poll_interval"`
		Address      struct {
			Street  string `yaml:"street"`
			City    string `yaml:"city"`
			State   string `yaml:"state"`
			Country string `yaml:"country"`
		} `yaml:"address"`
	} `yaml:"location"`

	Refresh struct {
		Interval      string `yaml:"interval"`
		DefaultCity   string `yaml:"default_city"`
		CityMaxLength int    `yaml:"city_max_length"`
	} `yaml:"refresh"`

	Display struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"display"`

	Reliability struct {
		RateLimit struct {
			RPS   int `yaml:"rps"`
			Burst int `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey  string `yaml:"weather_api_key"`
	GeocoderAPIKey string `yaml:"geocoder_api_key"`
}

var validate = validator.New()

// Load reads configuration relative to the working directory. See LoadDir.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(cwd)
}

// LoadDir reads dir/config/{ENV_NAME}.yaml (default dev). The API keys come from
// WEATHER_API_KEY / GEOCODER_API_KEY, then dir/.env, then dir/config/secrets.yaml.
func LoadDir(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	secrets, err := loadSecrets(dir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = secrets.WeatherAPIKey
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}
	cfg.GeocoderAPIKey = secrets.GeocoderAPIKey

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.BaseURL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.RetryAttempts = fc.WeatherAPI.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.WeatherAPI.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.WeatherAPI.RetryMaxDelay, 2*time.Second)

	cfg.BreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.BreakerThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "file"
	}
	cfg.CacheKey = fc.Cache.Key
	if cfg.CacheKey == "" {
		cfg.CacheKey = "savedForecast"
	}
	cfg.CacheFilePath = resolvePath(dir, fc.Cache.File.Path, filepath.Join("data", "forecast.json"))
	cfg.SQLitePath = resolvePath(dir, fc.Cache.SQLite.Path, filepath.Join("data", "forecast.db"))
	cfg.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = fc.Cache.Postgres.DSN
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.LocationSource = strings.ToLower(strings.TrimSpace(fc.Location.Source))
	if cfg.LocationSource == "" {
		cfg.LocationSource = "none"
	}
	cfg.LocationPermission = strings.ToLower(strings.TrimSpace(fc.Location.Permission))
	if cfg.LocationPermission == "" {
		cfg.LocationPermission = "not_determined"
	}
	cfg.Latitude = fc.Location.Latitude
	cfg.Longitude = fc.Location.Longitude
	cfg.LocationIPURL = fc.Location.IPURL
	defaultPoll := time.Duration(0)
	if cfg.LocationSource == "ip" {
		defaultPoll = 10 * time.Minute
	}
	cfg.LocationPollInterval = parseDurationOrZero(fc.Location.PollInterval, defaultPoll)
	cfg.LocationStreet = fc.Location.Address.Street
	cfg.LocationCity = fc.Location.Address.City
	cfg.LocationState = fc.Location.Address.State
	cfg.LocationCountry = fc.Location.Address.Country

	cfg.RefreshInterval = parseDurationOrZero(fc.Refresh.Interval, 0)
	cfg.DefaultCity = fc.Refresh.DefaultCity
	cfg.CityMaxLength = fc.Refresh.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	cfg.DisplayTimezone = fc.Display.Timezone

	cfg.RateLimitRPS = fc.Reliability.RateLimit.RPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimit.Burst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets resolves API keys from env, then .env, then config/secrets.yaml.
func loadSecrets(dir string) (secretsFile, error) {
	sec := secretsFile{
		WeatherAPIKey:  os.Getenv("WEATHER_API_KEY"),
		GeocoderAPIKey: os.Getenv("GEOCODER_API_KEY"),
	}

	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return sec, fmt.Errorf("parse .env file: %w", err)
	}
	if sec.WeatherAPIKey == "" {
		sec.WeatherAPIKey = dotenv["WEATHER_API_KEY"]
	}
	if sec.GeocoderAPIKey == "" {
		sec.GeocoderAPIKey = dotenv["GEOCODER_API_KEY"]
	}
	if sec.WeatherAPIKey != "" && sec.GeocoderAPIKey != "" {
		return sec, nil
	}

	secretsPath := filepath.Join(dir, "config", "secrets.yaml")
	data, err := os.ReadFile(secretsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	var file secretsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	if sec.WeatherAPIKey == "" {
		sec.WeatherAPIKey = file.WeatherAPIKey
	}
	if sec.GeocoderAPIKey == "" {
		sec.GeocoderAPIKey = file.GeocoderAPIKey
	}
	return sec, nil
}

func resolvePath(dir, p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validateConfig checks struct tags, then the rules tags cannot express.
func validateConfig(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if cfg.LocationPollInterval < 0 {
		return fmt.Errorf("location.poll_interval must not be negative")
	}
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("refresh.interval must not be negative")
	}
	return nil
}
