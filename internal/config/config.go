package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Cache    CacheConfig
	OpenAI   OpenAIConfig
	Images   ImagesConfig
	Business BusinessConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // bearer token for cache admin endpoints
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	Dir        string
	Enabled    bool
	DefaultTTL time.Duration
	ImageTTL   time.Duration
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ImagesConfig struct {
	UnsplashAccessKey string
	PexelsAPIKey      string
	PixabayAPIKey     string
	DownloadDir       string
}

type BusinessConfig struct {
	Timeout time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Cache: CacheConfig{
			Dir:        filepath.Join(dataDir, "cache"),
			Enabled:    true,
			DefaultTTL: 24 * time.Hour,
			ImageTTL:   7 * 24 * time.Hour,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		Images: ImagesConfig{
			DownloadDir: filepath.Join(dataDir, "images"),
		},
		Business: BusinessConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sitegen-data"
		}
	}
	return filepath.Join(dir, "sitegen")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sitegen", "config.json")
}

// fileConfig mirrors the on-disk JSON layout. Durations are plain strings
// ("24h", "30s") parsed with time.ParseDuration.
type fileConfig struct {
	Server struct {
		Port     int    `json:"port"`
		APIToken string `json:"api_token"`
	} `json:"server"`
	Storage struct {
		DataDir string `json:"data_dir"`
	} `json:"storage"`
	Cache struct {
		Dir        string `json:"dir"`
		Enabled    *bool  `json:"enabled"`
		DefaultTTL string `json:"default_ttl"`
		ImageTTL   string `json:"image_ttl"`
	} `json:"cache"`
	OpenAI struct {
		APIKey  string `json:"api_key"`
		BaseURL string `json:"base_url"`
		Model   string `json:"model"`
	} `json:"openai"`
	Images struct {
		UnsplashAccessKey string `json:"unsplash_access_key"`
		PexelsAPIKey      string `json:"pexels_api_key"`
		PixabayAPIKey     string `json:"pixabay_api_key"`
		DownloadDir       string `json:"download_dir"`
	} `json:"images"`
	Business struct {
		Timeout string `json:"timeout"`
	} `json:"business"`
	Log struct {
		Level string `json:"level"`
	} `json:"log"`
}

// Load reads configuration from defaults, the JSON config file at
// $XDG_CONFIG_HOME/sitegen/config.json, and SITEGEN_* environment
// variables, in that order of precedence (env wins).
//
// The OpenAI API key is the only required setting.
func Load() (Config, error) {
	return loadFrom(configFilePath(), os.Getenv)
}

func loadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()

	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key (set openai.api_key in %s or SITEGEN_OPENAI_API_KEY)", path)
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.Server.Port != 0 {
		cfg.Server.Port = fc.Server.Port
	}
	if fc.Server.APIToken != "" {
		cfg.Server.APIToken = fc.Server.APIToken
	}
	if fc.Storage.DataDir != "" {
		cfg.Storage.DataDir = fc.Storage.DataDir
	}
	if fc.Cache.Dir != "" {
		cfg.Cache.Dir = fc.Cache.Dir
	}
	if fc.Cache.Enabled != nil {
		cfg.Cache.Enabled = *fc.Cache.Enabled
	}
	if err := setDuration(&cfg.Cache.DefaultTTL, fc.Cache.DefaultTTL, "cache.default_ttl"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Cache.ImageTTL, fc.Cache.ImageTTL, "cache.image_ttl"); err != nil {
		return err
	}
	if fc.OpenAI.APIKey != "" {
		cfg.OpenAI.APIKey = fc.OpenAI.APIKey
	}
	if fc.OpenAI.BaseURL != "" {
		cfg.OpenAI.BaseURL = fc.OpenAI.BaseURL
	}
	if fc.OpenAI.Model != "" {
		cfg.OpenAI.Model = fc.OpenAI.Model
	}
	if fc.Images.UnsplashAccessKey != "" {
		cfg.Images.UnsplashAccessKey = fc.Images.UnsplashAccessKey
	}
	if fc.Images.PexelsAPIKey != "" {
		cfg.Images.PexelsAPIKey = fc.Images.PexelsAPIKey
	}
	if fc.Images.PixabayAPIKey != "" {
		cfg.Images.PixabayAPIKey = fc.Images.PixabayAPIKey
	}
	if fc.Images.DownloadDir != "" {
		cfg.Images.DownloadDir = fc.Images.DownloadDir
	}
	if err := setDuration(&cfg.Business.Timeout, fc.Business.Timeout, "business.timeout"); err != nil {
		return err
	}
	if fc.Log.Level != "" {
		cfg.Log.Level = fc.Log.Level
	}

	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("SITEGEN_SERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SITEGEN_SERVER_PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	if v := getenv("SITEGEN_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := getenv("SITEGEN_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("SITEGEN_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := getenv("SITEGEN_CACHE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SITEGEN_CACHE_ENABLED %q: %w", v, err)
		}
		cfg.Cache.Enabled = b
	}
	if v := getenv("SITEGEN_CACHE_DEFAULT_TTL"); v != "" {
		if err := setDuration(&cfg.Cache.DefaultTTL, v, "SITEGEN_CACHE_DEFAULT_TTL"); err != nil {
			return err
		}
	}
	if v := getenv("SITEGEN_CACHE_IMAGE_TTL"); v != "" {
		if err := setDuration(&cfg.Cache.ImageTTL, v, "SITEGEN_CACHE_IMAGE_TTL"); err != nil {
			return err
		}
	}
	if v := getenv("SITEGEN_OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := getenv("SITEGEN_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := getenv("SITEGEN_OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := getenv("SITEGEN_UNSPLASH_ACCESS_KEY"); v != "" {
		cfg.Images.UnsplashAccessKey = v
	}
	if v := getenv("SITEGEN_PEXELS_API_KEY"); v != "" {
		cfg.Images.PexelsAPIKey = v
	}
	if v := getenv("SITEGEN_PIXABAY_API_KEY"); v != "" {
		cfg.Images.PixabayAPIKey = v
	}
	if v := getenv("SITEGEN_BUSINESS_TIMEOUT"); v != "" {
		if err := setDuration(&cfg.Business.Timeout, v, "SITEGEN_BUSINESS_TIMEOUT"); err != nil {
			return err
		}
	}
	if v := getenv("SITEGEN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

func setDuration(dst *time.Duration, val, name string) error {
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", name, err)
	}
	*dst = d
	return nil
}
