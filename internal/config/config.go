package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultMaxUploadBytes = 10 * 1024 * 1024

type Config struct {
	ListenAddr       string
	DBPath           string
	VisionBackend    string
	OllamaHost       string
	OllamaModel      string
	ClaudeAPIKey     string
	ClaudeModel      string
	PhotoPath        string
	LogLevel         string
	LogFile          string
	MaxUploadBytes   int64
	CropFormat       string
	CropQuality      int
	DefaultCondition string
	SelectionMode    string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; variables already set win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)
	if err != nil {
		return nil, err
	}
	quality, err := getEnvInt("CROP_QUALITY", 90)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "/data/aptinv.db"),
		VisionBackend:    strings.ToLower(getEnv("VISION_BACKEND", "ollama")),
		OllamaHost:       getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:      getEnv("OLLAMA_MODEL", "qwen2.5vl"),
		ClaudeAPIKey:     getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:      getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		PhotoPath:        getEnv("PHOTO_LOCAL_PATH", "/data/photos"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		MaxUploadBytes:   int64(maxUpload),
		CropFormat:       strings.ToLower(getEnv("CROP_FORMAT", "jpeg")),
		CropQuality:      quality,
		DefaultCondition: getEnv("DEFAULT_CONDITION", "good"),
		SelectionMode:    strings.ToLower(getEnv("SELECTION_MODE", "multi")),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.VisionBackend {
	case "ollama":
	case "claude":
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("CLAUDE_API_KEY is required when VISION_BACKEND=claude")
		}
	default:
		return fmt.Errorf("unknown VISION_BACKEND %q", c.VisionBackend)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.CropQuality < 1 || c.CropQuality > 100 {
		return fmt.Errorf("CROP_QUALITY must be between 1 and 100")
	}
	if c.SelectionMode != "single" && c.SelectionMode != "multi" {
		return fmt.Errorf("unknown SELECTION_MODE %q", c.SelectionMode)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
