package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Session  SessionConfig
	Auth     AuthConfig
	Payments PaymentsConfig
	Payouts  PayoutConfig
	Poll     PollConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	R2       R2Config
	SMS      SMSConfig
}

type ServerConfig struct {
	Port    string
	Host    string
	Env     string
	BaseURL string // public URL used to build provider callback URLs

	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SessionConfig struct {
	Secret string
	Secure bool
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	AdminAPIKeyHash string // argon2id hash of the machine-to-machine admin key
}

type PaymentsConfig struct {
	CardProvider   string // flutterwave, paystack or pesapal
	RequestTimeout time.Duration
	Mpesa          MpesaConfig
	Flutterwave    FlutterwaveConfig
	PayPal         PayPalConfig
	Paystack       PaystackConfig
	Pesapal        PesapalConfig
}

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	Environment    string // sandbox or production
	CallbackURL    string
	CallbackToken  string
}

type FlutterwaveConfig struct {
	SecretKey   string
	WebhookHash string
	RedirectURL string
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string // sandbox or live
	ReturnURL    string
	CancelURL    string
}

type PaystackConfig struct {
	SecretKey   string
	PublicKey   string
	Environment string
	CallbackURL string
}

type PesapalConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	Environment    string
	CallbackURL    string
	IPNID          string
}

type PayoutConfig struct {
	Mode          string // immediate or batch
	BatchLimit    int
	ScheduleHour  int
	ScheduleMin   int
	TimeZone      string
	SchedulerOn   bool
	StatementsDir string
}

// Location resolves the time zone the payout schedule runs in
func (p PayoutConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("PAYOUT_TIMEZONE %q: %w", p.TimeZone, err)
	}
	return loc, nil
}

type PollConfig struct {
	Interval      time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
	SweepGrace    time.Duration
	PendingExpiry time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Region          string
	Endpoint        string
}

type SMSConfig struct {
	Username  string
	APIKey    string
	SenderID  string
	BaseURL   string
	ChunkSize int
}

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	config := &Config{
		Server: ServerConfig{
			Port:    getEnv("PORT", "8080"),
			Host:    getEnv("HOST", "localhost"),
			Env:     getEnv("ENV", "development"),
			BaseURL: baseURL,

			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Database: parseDatabaseConfig(),
		Session: SessionConfig{
			Secret: getEnv("SESSION_SECRET", "your-secret-key-change-in-production"),
			Secure: getEnvAsBool("SESSION_SECURE", false),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", ""),
			JWTIssuer:       getEnv("JWT_ISSUER", ""),
			AdminAPIKeyHash: getEnv("ADMIN_API_KEY_HASH", ""),
		},
		Payments: PaymentsConfig{
			CardProvider:   getEnv("CARD_PROVIDER", "flutterwave"),
			RequestTimeout: getEnvAsDuration("PAYMENT_REQUEST_TIMEOUT", 30*time.Second),
			Mpesa: MpesaConfig{
				ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
				ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
				Shortcode:      getEnv("MPESA_SHORTCODE", ""),
				Passkey:        getEnv("MPESA_PASSKEY", ""),
				Environment:    getEnv("MPESA_ENVIRONMENT", "sandbox"),
				CallbackURL:    getEnv("MPESA_CALLBACK_URL", baseURL+"/webhooks/mpesa"),
				CallbackToken:  getEnv("MPESA_CALLBACK_TOKEN", ""),
			},
			Flutterwave: FlutterwaveConfig{
				SecretKey:   getEnv("FLW_SECRET_KEY", ""),
				WebhookHash: getEnv("FLW_WEBHOOK_HASH", ""),
				RedirectURL: getEnv("FLW_REDIRECT_URL", baseURL+"/order-confirmed"),
			},
			PayPal: PayPalConfig{
				ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
				ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
				Mode:         getEnv("PAYPAL_MODE", "sandbox"),
				ReturnURL:    getEnv("PAYPAL_RETURN_URL", baseURL+"/order-confirmed"),
				CancelURL:    getEnv("PAYPAL_CANCEL_URL", baseURL+"/cart"),
			},
			Paystack: PaystackConfig{
				SecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
				PublicKey:   getEnv("PAYSTACK_PUBLIC_KEY", ""),
				Environment: getEnv("PAYSTACK_ENVIRONMENT", "test"),
				CallbackURL: getEnv("PAYSTACK_CALLBACK_URL", baseURL+"/order-confirmed"),
			},
			Pesapal: PesapalConfig{
				ConsumerKey:    getEnv("PESAPAL_CONSUMER_KEY", ""),
				ConsumerSecret: getEnv("PESAPAL_CONSUMER_SECRET", ""),
				Environment:    getEnv("PESAPAL_ENVIRONMENT", "sandbox"),
				CallbackURL:    getEnv("PESAPAL_CALLBACK_URL", baseURL+"/order-confirmed"),
				IPNID:          getEnv("PESAPAL_IPN_ID", ""),
			},
		},
		Payouts: PayoutConfig{
			Mode:          getEnv("PAYOUT_MODE", "immediate"),
			BatchLimit:    getEnvAsInt("PAYOUT_BATCH_LIMIT", 100),
			ScheduleHour:  getEnvAsInt("PAYOUT_SCHEDULE_HOUR", 3),
			ScheduleMin:   getEnvAsInt("PAYOUT_SCHEDULE_MINUTE", 0),
			TimeZone:      getEnv("PAYOUT_TIMEZONE", "Africa/Nairobi"),
			SchedulerOn:   getEnvAsBool("PAYOUT_SCHEDULER_ENABLED", true),
			StatementsDir: getEnv("PAYOUT_STATEMENTS_DIR", "./statements"),
		},
		Poll: PollConfig{
			Interval:      getEnvAsDuration("PAYMENT_POLL_INTERVAL", 3*time.Second),
			MaxAttempts:   getEnvAsInt("PAYMENT_POLL_MAX_ATTEMPTS", 20),
			SweepInterval: getEnvAsDuration("PENDING_SWEEP_INTERVAL", time.Minute),
			SweepGrace:    getEnvAsDuration("PENDING_SWEEP_GRACE", 2*time.Minute),
			PendingExpiry: getEnvAsDuration("PENDING_ORDER_EXPIRY", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_PAYMENTS_TOPIC", "tikiti.payments"),
		},
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			BucketName:      getEnv("R2_BUCKET_NAME", "payout-statements"),
			PublicURL:       getEnv("R2_PUBLIC_URL", ""),
			Region:          getEnv("R2_REGION", "auto"),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
		},
		SMS: SMSConfig{
			Username:  getEnv("AT_USERNAME", ""),
			APIKey:    getEnv("AT_API_KEY", ""),
			SenderID:  getEnv("AT_SENDER_ID", "TIKITI"),
			BaseURL:   getEnv("AT_BASE_URL", "https://api.africastalking.com"),
			ChunkSize: getEnvAsInt("AT_CHUNK_SIZE", 100),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports settings that would make the service misbehave
func (c *Config) Validate() error {
	var errs []error
	switch c.Payouts.Mode {
	case "immediate", "batch":
	default:
		errs = append(errs, fmt.Errorf("PAYOUT_MODE must be immediate or batch, got %q", c.Payouts.Mode))
	}
	switch c.Payments.CardProvider {
	case "flutterwave", "paystack", "pesapal":
	default:
		errs = append(errs, fmt.Errorf("CARD_PROVIDER must be flutterwave, paystack or pesapal, got %q", c.Payments.CardProvider))
	}
	if c.Poll.MaxAttempts < 1 {
		errs = append(errs, errors.New("PAYMENT_POLL_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("PAYMENT_POLL_INTERVAL must be positive"))
	}
	if c.Payouts.ScheduleHour < 0 || c.Payouts.ScheduleHour > 23 || c.Payouts.ScheduleMin < 0 || c.Payouts.ScheduleMin > 59 {
		errs = append(errs, errors.New("payout schedule must be a valid time of day"))
	}
	if _, err := c.Payouts.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs against live rails
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func parseDatabaseConfig() DatabaseConfig {
	// Check if DATABASE_URL is provided
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		return parseDatabaseURL(databaseURL)
	}

	// Fall back to individual environment variables
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "tikiti"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
