package config

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/poofware/attestation-service/internal/models"
	"github.com/poofware/attestation-service/internal/utils"
)

const AppName = "attestation-service"

// Defaults for knobs that rarely need tuning.
const (
	DefaultAppPort            = "8080"
	DefaultRateLimitPerMinute = 30
	DefaultRateLimitWindow    = time.Minute
)

// Config holds all application configuration. Secrets arrive through the
// environment; the pin set arrives as a versioned JSON document so a
// rotation never requires a code change.
type Config struct {
	AppName string
	AppPort string
	AppUrl  string
	DBUrl   string

	// iOS app identity the App Attest origin hash is checked against.
	IOSTeamID   string
	IOSBundleID string

	// Android Play Integrity credentials and endpoint overrides.
	AndroidPackageName    string
	ServiceAccountEmail   string
	ServiceAccountKey     *rsa.PrivateKey
	PlayIntegrityTokenURL string
	PlayIntegrityAPIURL   string

	RateLimitPerMinute int
	RateLimitWindow    time.Duration

	PinConfig models.PinConfig
}

// LoadConfig reads the environment (plus an optional .env file for local
// runs) and fails fast on anything required but missing.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		utils.Logger.Debug("No .env file found; relying on process environment")
	}

	cfg := &Config{
		AppName: AppName,
		AppPort: envOrDefault("APP_PORT", DefaultAppPort),
		AppUrl:  os.Getenv("APP_URL"),
		DBUrl:   mustEnv("DATABASE_URL"),

		IOSTeamID:   os.Getenv("IOS_TEAM_ID"),
		IOSBundleID: os.Getenv("IOS_BUNDLE_ID"),

		AndroidPackageName:    os.Getenv("ANDROID_PACKAGE_NAME"),
		ServiceAccountEmail:   os.Getenv("PLAY_INTEGRITY_SA_EMAIL"),
		PlayIntegrityTokenURL: os.Getenv("PLAY_INTEGRITY_TOKEN_URL"),
		PlayIntegrityAPIURL:   os.Getenv("PLAY_INTEGRITY_API_URL"),

		RateLimitPerMinute: envIntOrDefault("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMinute),
		RateLimitWindow:    DefaultRateLimitWindow,
	}

	if pemStr := os.Getenv("PLAY_INTEGRITY_SA_KEY"); pemStr != "" {
		key, err := parseRSAPrivateKey([]byte(pemStr))
		if err != nil {
			utils.Logger.Fatal("Failed to parse PLAY_INTEGRITY_SA_KEY: ", err)
		}
		cfg.ServiceAccountKey = key
	}
	if cfg.AndroidPackageName != "" && cfg.ServiceAccountKey == nil {
		utils.Logger.Fatal("ANDROID_PACKAGE_NAME is set but PLAY_INTEGRITY_SA_KEY is missing")
	}

	pinPath := mustEnv("PIN_CONFIG_PATH")
	pinCfg, err := LoadPinConfig(pinPath)
	if err != nil {
		utils.Logger.Fatal("Failed to load pin configuration: ", err)
	}
	cfg.PinConfig = pinCfg

	return cfg
}

// LoadPinConfig reads the versioned pin document from disk.
func LoadPinConfig(path string) (models.PinConfig, error) {
	var cfg models.PinConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read pin config %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse pin config %s: %w", path, err)
	}
	if len(cfg.CurrentPins) == 0 {
		return cfg, fmt.Errorf("pin config %s has no current pins", path)
	}
	return cfg, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PEM block does not contain an RSA private key")
	}
	return key, nil
}

func mustEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		utils.Logger.Fatal(name + " env var is missing")
	}
	return v
}

func envOrDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		utils.Logger.Fatalf("%s must be an integer, got %q", name, v)
	}
	return n
}
