package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	minJWTSecretLength    = 32
	defaultMaxUploadBytes = 50 << 20
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	JWTSecret  string `yaml:"jwtSecret"`
	JWTIssuer  string `yaml:"jwtIssuer"`
	JWTLeeway  string `yaml:"jwtLeeway"`
	AccessTTL  string `yaml:"accessTTL"`
	RefreshTTL string `yaml:"refreshTTL"`

	PythonServerURL string `yaml:"pythonServerURL"`
	AITimeout       string `yaml:"aiTimeout"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxies     []string `yaml:"trustedProxies"`

	StorageDir     string `yaml:"storageDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
	EventStream  string `yaml:"eventStream"`

	RegisterRateLimitPerMinute int `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute  int `yaml:"refreshRateLimitPerMinute"`

	TokenCleanupInterval string `yaml:"tokenCleanupInterval"`
}

// Durations holds the parsed duration settings.
type Durations struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	JWTLeeway            time.Duration
	AITimeout            time.Duration
	TokenCleanupInterval time.Duration
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and validates the result. A missing file is not an error so the
// service can be configured from the environment alone.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() FileConfig {
	return FileConfig{
		Port:                       "8080",
		LogLevel:                   "info",
		AccessTTL:                  "1h",
		RefreshTTL:                 "168h",
		AITimeout:                  "60s",
		TokenCleanupInterval:       "1h",
		CORSAllowedOrigins:         []string{"http://localhost:3000"},
		StorageDir:                 "data/uploads",
		MinioBucket:                "pdfchat",
		MaxUploadBytes:             defaultMaxUploadBytes,
		AMQPExchange:               "pdfchat.events",
		EventStream:                "pdfchat:events",
		RegisterRateLimitPerMinute: 10,
		LoginRateLimitPerMinute:    20,
		RefreshRateLimitPerMinute:  60,
	}
}

func applyEnv(cfg *FileConfig) {
	str := map[string]*string{
		"PORT":                   &cfg.Port,
		"LOG_LEVEL":              &cfg.LogLevel,
		"DATABASE_URL":           &cfg.DatabaseURL,
		"JWT_SECRET":             &cfg.JWTSecret,
		"JWT_ISSUER":             &cfg.JWTIssuer,
		"JWT_LEEWAY":             &cfg.JWTLeeway,
		"ACCESS_TOKEN_TTL":       &cfg.AccessTTL,
		"REFRESH_TOKEN_TTL":      &cfg.RefreshTTL,
		"PYTHON_SERVER_URL":      &cfg.PythonServerURL,
		"AI_TIMEOUT":             &cfg.AITimeout,
		"REDIS_ADDR":             &cfg.RedisAddr,
		"REDIS_PASSWORD":         &cfg.RedisPassword,
		"STORAGE_DIR":            &cfg.StorageDir,
		"MINIO_ENDPOINT":         &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":       &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":       &cfg.MinioSecretKey,
		"MINIO_BUCKET":           &cfg.MinioBucket,
		"AMQP_URL":               &cfg.AMQPURL,
		"AMQP_EXCHANGE":          &cfg.AMQPExchange,
		"EVENT_STREAM":           &cfg.EventStream,
		"TOKEN_CLEANUP_INTERVAL": &cfg.TokenCleanupInterval,
	}
	for key, dst := range str {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"REGISTER_RATE_LIMIT_PER_MINUTE": &cfg.RegisterRateLimitPerMinute,
		"LOGIN_RATE_LIMIT_PER_MINUTE":    &cfg.LoginRateLimitPerMinute,
		"REFRESH_RATE_LIMIT_PER_MINUTE":  &cfg.RefreshRateLimitPerMinute,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if len(cfg.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes (set JWT_SECRET)", minJWTSecretLength)
	}
	u, err := url.Parse(strings.TrimSpace(cfg.PythonServerURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("config: pythonServerURL must be an absolute http(s) URL (set PYTHON_SERVER_URL)")
	}
	if _, err := cfg.Durations(); err != nil {
		return err
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("config: maxUploadBytes must be > 0")
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioEndpoint requires minioAccessKey, minioSecretKey and minioBucket")
	}
	return nil
}

// Durations parses every duration setting.
func (c FileConfig) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"accessTTL", c.AccessTTL, &d.AccessTTL},
		{"refreshTTL", c.RefreshTTL, &d.RefreshTTL},
		{"jwtLeeway", c.JWTLeeway, &d.JWTLeeway},
		{"aiTimeout", c.AITimeout, &d.AITimeout},
		{"tokenCleanupInterval", c.TokenCleanupInterval, &d.TokenCleanupInterval},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		dur, err := time.ParseDuration(f.raw)
		if err != nil {
			return d, fmt.Errorf("config: invalid %s duration: %w", f.name, err)
		}
		if dur < 0 {
			return d, fmt.Errorf("config: %s must not be negative", f.name)
		}
		*f.dst = dur
	}
	if d.AccessTTL == 0 || d.RefreshTTL == 0 {
		return d, errors.New("config: accessTTL and refreshTTL must be > 0")
	}
	return d, nil
}
