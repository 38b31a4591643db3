package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Env: "development"},
		Payments: PaymentsConfig{CardProvider: "flutterwave"},
		Payouts:  PayoutConfig{Mode: "immediate", ScheduleHour: 3, TimeZone: "Africa/Nairobi"},
		Poll:     PollConfig{Interval: 3 * time.Second, MaxAttempts: 20},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "batch mode", mutate: func(c *Config) { c.Payouts.Mode = "batch" }},
		{name: "unknown payout mode", mutate: func(c *Config) { c.Payouts.Mode = "weekly" }, wantErr: "PAYOUT_MODE"},
		{name: "mpesa is not a card rail", mutate: func(c *Config) { c.Payments.CardProvider = "mpesa" }, wantErr: "CARD_PROVIDER"},
		{name: "no poll attempts", mutate: func(c *Config) { c.Poll.MaxAttempts = 0 }, wantErr: "PAYMENT_POLL_MAX_ATTEMPTS"},
		{name: "zero poll interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: "PAYMENT_POLL_INTERVAL"},
		{name: "hour out of range", mutate: func(c *Config) { c.Payouts.ScheduleHour = 24 }, wantErr: "time of day"},
		{name: "minute out of range", mutate: func(c *Config) { c.Payouts.ScheduleMin = 60 }, wantErr: "time of day"},
		{name: "unknown time zone", mutate: func(c *Config) { c.Payouts.TimeZone = "Mars/Olympus" }, wantErr: "PAYOUT_TIMEZONE"},
		{
			name:    "production needs a jwt secret",
			mutate:  func(c *Config) { c.Server.Env = "production" },
			wantErr: "JWT_SECRET",
		},
		{
			name: "production with secret",
			mutate: func(c *Config) {
				c.Server.Env = "production"
				c.Auth.JWTSecret = "s3cret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	c := validConfig()
	c.Payouts.Mode = ""
	c.Payments.CardProvider = ""

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYOUT_MODE")
	assert.Contains(t, err.Error(), "CARD_PROVIDER")
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("BASE_URL", "https://tikiti.co.ke")
	t.Setenv("CARD_PROVIDER", "paystack")
	t.Setenv("PAYOUT_MODE", "batch")
	t.Setenv("PAYMENT_POLL_INTERVAL", "5s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://tikiti.co.ke")
	t.Setenv("DATABASE_URL", "postgres://tikiti:pw@db.internal:6543/tickets?sslmode=require")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "paystack", cfg.Payments.CardProvider)
	assert.Equal(t, "batch", cfg.Payouts.Mode)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://tikiti.co.ke"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "https://tikiti.co.ke/webhooks/mpesa", cfg.Payments.Mpesa.CallbackURL)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "tikiti", cfg.Database.User)
	assert.Equal(t, "pw", cfg.Database.Password)
	assert.Equal(t, "tickets", cfg.Database.DBName)
	assert.Equal(t, "require", cfg.Database.SSLMode)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("PAYOUT_MODE", "monthly")

	_, err := Load()
	assert.ErrorContains(t, err, "PAYOUT_MODE")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TIKITI_INT", "abc")
	t.Setenv("TIKITI_BOOL", "true")
	t.Setenv("TIKITI_DURATION", "90s")

	assert.Equal(t, 7, getEnvAsInt("TIKITI_INT", 7))
	assert.True(t, getEnvAsBool("TIKITI_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvAsDuration("TIKITI_DURATION", time.Second))
	assert.Equal(t, "fallback", getEnv("TIKITI_UNSET", "fallback"))
	assert.Nil(t, getEnvAsList("TIKITI_UNSET"))
}

func TestPayoutConfig_Location(t *testing.T) {
	loc, err := PayoutConfig{TimeZone: "Africa/Nairobi"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Africa/Nairobi", loc.String())

	_, err = PayoutConfig{TimeZone: "Africa/Nairobbi"}.Location()
	assert.ErrorContains(t, err, "PAYOUT_TIMEZONE")

	t.Setenv("PAYOUT_TIMEZONE", "Africa/Nairobbi")
	_, err = Load()
	assert.ErrorContains(t, err, "PAYOUT_TIMEZONE", "a mistyped zone stops startup instead of falling back to UTC")
}
