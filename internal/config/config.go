package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML. Secrets can be
// overridden through environment variables so the YAML file stays committable.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	UsersFile string `yaml:"usersFile"`
	OutputDir string `yaml:"outputDir"`
	BackupDir string `yaml:"backupDir"`

	AllowedDomains []string `yaml:"allowedDomains"`

	SessionSecret string `yaml:"sessionSecret"`
	SessionTTL    string `yaml:"sessionTTL"`

	MailjetURL         string `yaml:"mailjetURL"`
	MailjetAPIKey      string `yaml:"mailjetAPIKey"`
	MailjetAPISecret   string `yaml:"mailjetAPISecret"`
	MailjetSenderEmail string `yaml:"mailjetSenderEmail"`
	MailjetSenderName  string `yaml:"mailjetSenderName"`

	AppriseURL       string `yaml:"appriseURL"`
	AppriseToken     string `yaml:"appriseToken"`
	AppriseNtfyHost  string `yaml:"appriseNtfyHost"`
	AppriseNtfyTopic string `yaml:"appriseNtfyTopic"`
	AppriseNtfyToken string `yaml:"appriseNtfyToken"`

	// Proxy CIDRs whose forwarded headers are trusted for client IP.
	TrustedProxies []string `yaml:"trustedProxies"`

	RedisAddr                   string `yaml:"redisAddr"`
	RedisPassword               string `yaml:"redisPassword"`
	LoginCodeRateLimitPerMinute int    `yaml:"loginCodeRateLimitPerMinute"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides and defaults.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// Override with environment variables
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("MAILJET_URL"); v != "" {
		cfg.MailjetURL = v
	}
	if v := os.Getenv("MAILJET_API_KEY"); v != "" {
		cfg.MailjetAPIKey = v
	}
	if v := os.Getenv("MAILJET_API_SECRET"); v != "" {
		cfg.MailjetAPISecret = v
	}
	if v := os.Getenv("MAILJET_SENDER_EMAIL"); v != "" {
		cfg.MailjetSenderEmail = v
	}
	if v := os.Getenv("APPRISE_URL"); v != "" {
		cfg.AppriseURL = v
	}
	if v := os.Getenv("APPRISE_TOKEN"); v != "" {
		cfg.AppriseToken = v
	}
	if v := os.Getenv("APPRISE_NTFY_HOST"); v != "" {
		cfg.AppriseNtfyHost = v
	}
	if v := os.Getenv("APPRISE_NTFY_TOPIC"); v != "" {
		cfg.AppriseNtfyTopic = v
	}
	if v := os.Getenv("APPRISE_NTFY_TOKEN"); v != "" {
		cfg.AppriseNtfyToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LOGIN_CODE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginCodeRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.UsersFile == "" {
		cfg.UsersFile = "data/users/users.json"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "data/output/forecast"
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "data/backup"
	}
	if len(cfg.AllowedDomains) == 0 {
		cfg.AllowedDomains = []string{"@iph.it"}
	}
	if cfg.MailjetURL == "" {
		cfg.MailjetURL = "https://api.mailjet.com/v3.1/send"
	}
	if cfg.MailjetSenderEmail == "" {
		cfg.MailjetSenderEmail = "noreply@forecastapp.com"
	}
	if cfg.MailjetSenderName == "" {
		cfg.MailjetSenderName = "Forecast WebApp"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.SessionSecret == "" {
		return errors.New("config: sessionSecret is required (set SESSION_SECRET)")
	}
	if cfg.LoginCodeRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.LoginCodeRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: loginCodeRateLimitPerMinute requires redisAddr")
	}
	return nil
}

// ParseSessionTTL parses the optional session TTL duration string.
// The zero value means "use the default".
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}
