package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	defaultPort               = "4001"
	defaultAppEnv             = "production"
	defaultLogLevel           = "info"
	defaultRedisAddr          = "localhost:6379"
	defaultPushDedupTTL       = 24 * time.Hour
	defaultAndroidPackageName = "com.lifeisbonus.app"
	defaultRTDNTopic          = "play-rtdn"
	defaultKakaoAPIBase       = "https://kapi.kakao.com"
)

var defaultPremiumProductIDs = []string{
	"lifeisbonus_premium_monthly",
	"lifeisbonus_premium_yearly",
}

type Config struct {
	Server struct {
		Port           string   `yaml:"port" env:"PORT"`
		Env            string   `yaml:"env" env:"APP_ENV"`
		LogLevel       string   `yaml:"log_level" env:"LOG_LEVEL"`
		AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
		MetricsEnabled bool     `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"database"`
	Redis struct {
		Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
		Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
		DB           int           `yaml:"db" env:"REDIS_DB"`
		PushDedupTTL time.Duration `yaml:"push_dedup_ttl" env:"PUSH_DEDUP_TTL"`
	} `yaml:"redis"`
	Firebase struct {
		ProjectID       string `yaml:"project_id" env:"FIREBASE_PROJECT_ID"`
		CredentialsFile string `yaml:"credentials_file" env:"FIREBASE_CREDENTIALS_FILE"`
	} `yaml:"firebase"`
	Premium struct {
		ProductIDs               []string `yaml:"product_ids" env:"PREMIUM_PRODUCT_IDS" envSeparator:","`
		AppleSharedSecret        string   `yaml:"apple_shared_secret" env:"APPLE_SHARED_SECRET"`
		AndroidPackageName       string   `yaml:"android_package_name" env:"ANDROID_PACKAGE_NAME"`
		GoogleServiceAccountJSON string   `yaml:"google_service_account_json" env:"GOOGLE_PLAY_SERVICE_ACCOUNT_JSON"`
		RTDNTopic                string   `yaml:"rtdn_topic" env:"RTDN_TOPIC"`
		PubSubAudience           string   `yaml:"pubsub_audience" env:"PUBSUB_AUDIENCE"`
	} `yaml:"premium"`
	Trigger struct {
		SigningKey string `yaml:"signing_key" env:"TRIGGER_SIGNING_KEY"`
	} `yaml:"trigger"`
	Kakao struct {
		APIBase string `yaml:"api_base" env:"KAKAO_API_BASE"`
	} `yaml:"kakao"`
}

// Default returns the configuration used when neither a file nor the environment sets a value.
func Default() Config {
	var cfg Config
	cfg.Server.Port = defaultPort
	cfg.Server.Env = defaultAppEnv
	cfg.Server.LogLevel = defaultLogLevel
	cfg.Server.MetricsEnabled = true
	cfg.Redis.Addr = defaultRedisAddr
	cfg.Redis.PushDedupTTL = defaultPushDedupTTL
	cfg.Premium.ProductIDs = append([]string(nil), defaultPremiumProductIDs...)
	cfg.Premium.AndroidPackageName = defaultAndroidPackageName
	cfg.Premium.RTDNTopic = defaultRTDNTopic
	cfg.Kakao.APIBase = defaultKakaoAPIBase
	return cfg
}

// LoadConfig layers defaults, the optional YAML file at path and the process environment.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config file: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Premium.ProductIDs = normalizeList(cfg.Premium.ProductIDs)
	cfg.Server.AllowedOrigins = normalizeList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.Premium.ProductIDs) == 0 {
		return fmt.Errorf("PREMIUM_PRODUCT_IDS must list at least one product")
	}
	if c.Redis.PushDedupTTL <= 0 {
		return fmt.Errorf("PUSH_DEDUP_TTL must be positive")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Server.Port), ":")
	return ":" + port
}

// AllowedProducts returns the premium product allow-list as a set.
func (c Config) AllowedProducts() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Premium.ProductIDs))
	for _, id := range c.Premium.ProductIDs {
		out[id] = struct{}{}
	}
	return out
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
