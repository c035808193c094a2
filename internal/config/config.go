package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	// Empty means the peer address is the client.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	RegistrationTimezone  string        `mapstructure:"REGISTRATION_TIMEZONE"`
	AllocationMaxAttempts int           `mapstructure:"ALLOCATION_MAX_ATTEMPTS"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit             string        `mapstructure:"BODY_LIMIT"`
	UploadLimit           string        `mapstructure:"UPLOAD_LIMIT"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`

	OCREngine     string `mapstructure:"OCR_ENGINE"`
	TesseractPath string `mapstructure:"TESSERACT_PATH"`
	GeminiAPIKey  string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel   string `mapstructure:"GEMINI_MODEL"`

	UploadStore  string `mapstructure:"UPLOAD_STORE"`
	UploadBucket string `mapstructure:"UPLOAD_BUCKET"`

	EventsSink   string   `mapstructure:"EVENTS_SINK"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`
	SQSQueueName string   `mapstructure:"SQS_QUEUE_NAME"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS", "TRUSTED_PROXIES",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"REGISTRATION_TIMEZONE", "ALLOCATION_MAX_ATTEMPTS", "REQUEST_TIMEOUT",
	"BODY_LIMIT", "UPLOAD_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"OCR_ENGINE", "TESSERACT_PATH", "GEMINI_API_KEY", "GEMINI_MODEL",
	"UPLOAD_STORE", "UPLOAD_BUCKET",
	"EVENTS_SINK", "KAFKA_BROKERS", "KAFKA_TOPIC", "SQS_QUEUE_NAME",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "3000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("REGISTRATION_TIMEZONE", "Local")
	v.SetDefault("ALLOCATION_MAX_ATTEMPTS", 5)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("UPLOAD_LIMIT", "10M")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("OCR_ENGINE", "none")
	v.SetDefault("TESSERACT_PATH", "tesseract")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("UPLOAD_STORE", "none")
	v.SetDefault("EVENTS_SINK", "none")
	v.SetDefault("KAFKA_TOPIC", "patient-registrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	if proxies := v.GetString("TRUSTED_PROXIES"); proxies != "" {
		cfg.TrustedProxies = splitList(proxies)
	}
	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token are treated as registrar.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves REGISTRATION_TIMEZONE. The registration period is taken
// from the wall clock in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.RegistrationTimezone == "" || c.RegistrationTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.RegistrationTimezone)
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key is required so the registration endpoints are authenticated.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" {
		key, err := hex.DecodeString(c.AuthSigningKey)
		if err != nil {
			return fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
		}
		if len(key) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("REGISTRATION_TIMEZONE: %w", err)
	}
	if _, err := c.TrustedProxyNets(); err != nil {
		return err
	}
	if c.AllocationMaxAttempts < 1 || c.AllocationMaxAttempts > 20 {
		return fmt.Errorf("ALLOCATION_MAX_ATTEMPTS must be between 1 and 20, got %d", c.AllocationMaxAttempts)
	}

	switch c.OCREngine {
	case "none", "tesseract":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when OCR_ENGINE is \"gemini\"")
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be \"none\", \"tesseract\", or \"gemini\", got %q", c.OCREngine)
	}

	switch c.UploadStore {
	case "none", "memory":
	case "s3":
		if c.UploadBucket == "" {
			return fmt.Errorf("UPLOAD_BUCKET is required when UPLOAD_STORE is \"s3\"")
		}
	default:
		return fmt.Errorf("UPLOAD_STORE must be \"none\", \"memory\", or \"s3\", got %q", c.UploadStore)
	}

	switch c.EventsSink {
	case "none", "log":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_SINK is \"kafka\"")
		}
	case "sqs":
		if c.SQSQueueName == "" {
			return fmt.Errorf("SQS_QUEUE_NAME is required when EVENTS_SINK is \"sqs\"")
		}
	default:
		return fmt.Errorf("EVENTS_SINK must be \"none\", \"log\", \"kafka\", or \"sqs\", got %q", c.EventsSink)
	}

	return nil
}

// SigningKey returns the decoded AUTH_SIGNING_KEY, or nil when unset.
func (c *Config) SigningKey() []byte {
	if c.AuthSigningKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil
	}
	return key
}

// TrustedProxyNets parses TRUSTED_PROXIES.
func (c *Config) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, cidr := range c.TrustedProxies {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
