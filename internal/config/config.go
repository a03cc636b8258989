package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// CSRF backends
const (
	CSRFBackendStore = "store"
	CSRFBackendRedis = "redis"
)

// bcrypt ignores input past 72 bytes
const bcryptMaxBytes = 72

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Redis     RedisConfig     `toml:"redis"`
	Tokens    TokenConfig     `toml:"tokens"`
	Password  PasswordConfig  `toml:"password"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Cookie    CookieConfig    `toml:"cookie"`
	Email     EmailConfig     `toml:"email"`
}

type DatabaseConfig struct {
	Host              string        `toml:"host"`
	Port              int           `toml:"port"`
	User              string        `toml:"user"`
	Password          string        `toml:"password"`
	Name              string        `toml:"name"`
	SSLMode           string        `toml:"sslmode"`
	MaxConns          int32         `toml:"max_conns"`
	MinConns          int32         `toml:"min_conns"`
	MaxConnLifetime   time.Duration `toml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `toml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `toml:"health_check_period"`
	AutoMigrate       bool          `toml:"auto_migrate"`
}

type ServerConfig struct {
	Port            string        `toml:"port"`
	Env             string        `toml:"env"`
	LogLevel        string        `toml:"log_level"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	TrustedProxies  []string      `toml:"trusted_proxies"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	CleanupInterval time.Duration `toml:"cleanup_interval"`
}

type StorageConfig struct {
	Backend     string `toml:"backend"`      // postgres | memory
	CSRFBackend string `toml:"csrf_backend"` // store | redis
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type TokenConfig struct {
	AccessSecret  string        `toml:"access_secret"`
	RefreshSecret string        `toml:"refresh_secret"`
	Issuer        string        `toml:"issuer"`
	Audience      string        `toml:"audience"`
	AccessExpiry  time.Duration `toml:"access_expiry"`
	RefreshExpiry time.Duration `toml:"refresh_expiry"`
}

type PasswordConfig struct {
	Algorithm         string        `toml:"algorithm"` // bcrypt | argon2id
	BcryptCost        int           `toml:"bcrypt_cost"`
	Argon2Memory      uint32        `toml:"argon2_memory_kib"`
	Argon2Time        uint32        `toml:"argon2_time"`
	Argon2Parallelism uint8         `toml:"argon2_parallelism"`
	MinLength         int           `toml:"min_length"`
	MaxLength         int           `toml:"max_length"`
	RequireUpper      bool          `toml:"require_upper"`
	RequireLower      bool          `toml:"require_lower"`
	RequireDigit      bool          `toml:"require_digit"`
	RequireSymbol     bool          `toml:"require_symbol"`
	RejectCommon      bool          `toml:"reject_common"`
	BreachCheck       bool          `toml:"breach_check"`
	BreachEndpoint    string        `toml:"breach_endpoint"`
	BreachTimeout     time.Duration `toml:"breach_timeout"`
}

type AuthConfig struct {
	SessionDuration            time.Duration `toml:"session_duration"`
	RememberMeDuration         time.Duration `toml:"remember_me_duration"`
	SessionIdleTimeout         time.Duration `toml:"session_idle_timeout"`
	MaxLoginAttempts           int           `toml:"max_login_attempts"`
	LockoutDuration            time.Duration `toml:"lockout_duration"`
	AttemptWindow              time.Duration `toml:"attempt_window"`
	MaxAttemptsPerOrigin       int           `toml:"max_attempts_per_origin"`
	AttemptRetention           time.Duration `toml:"attempt_retention"`
	CSRFTokenExpiry            time.Duration `toml:"csrf_token_expiry"`
	VerificationTokenExpiry    time.Duration `toml:"verification_token_expiry"`
	VerificationResendCooldown time.Duration `toml:"verification_resend_cooldown"`
	ResetTokenExpiry           time.Duration `toml:"reset_token_expiry"`
	RequireEmailVerification   bool          `toml:"require_email_verification"`
	TimingBaseDelay            time.Duration `toml:"timing_base_delay"`
	TimingJitter               time.Duration `toml:"timing_jitter"`
	SessionCheckFailClosed     bool          `toml:"session_check_fail_closed"`
}

type RateLimitConfig struct {
	Requests     int           `toml:"requests"`
	Window       time.Duration `toml:"window"`
	AuthRequests int           `toml:"auth_requests"`
	AuthWindow   time.Duration `toml:"auth_window"`
}

type CookieConfig struct {
	Domain   string `toml:"domain"`
	Secure   bool   `toml:"secure"`
	SameSite string `toml:"same_site"`
}

type EmailConfig struct {
	Provider  string `toml:"provider"` // log | ses
	From      string `toml:"from"`
	AWSRegion string `toml:"aws_region"`
	BaseURL   string `toml:"base_url"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Env:             "development",
			LogLevel:        "info",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CleanupInterval: time.Hour,
		},
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			User:              "postgres",
			Name:              "authcore",
			SSLMode:           "disable",
			MaxConns:          25,
			MinConns:          5,
			MaxConnLifetime:   5 * time.Minute,
			MaxConnIdleTime:   time.Minute,
			HealthCheckPeriod: time.Minute,
		},
		Storage: StorageConfig{
			Backend:     StoragePostgres,
			CSRFBackend: CSRFBackendStore,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Tokens: TokenConfig{
			Issuer:        "authcore",
			Audience:      "authcore-api",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 14 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Algorithm:         "bcrypt",
			BcryptCost:        12,
			Argon2Memory:      64 * 1024,
			Argon2Time:        3,
			Argon2Parallelism: 2,
			MinLength:         8,
			MaxLength:         72,
			RequireUpper:      true,
			RequireLower:      true,
			RequireDigit:      true,
			RequireSymbol:     true,
			RejectCommon:      true,
			BreachTimeout:     2 * time.Second,
		},
		Auth: AuthConfig{
			SessionDuration:            24 * time.Hour,
			RememberMeDuration:         14 * 24 * time.Hour,
			SessionIdleTimeout:         7 * 24 * time.Hour,
			MaxLoginAttempts:           5,
			LockoutDuration:            15 * time.Minute,
			AttemptWindow:              15 * time.Minute,
			MaxAttemptsPerOrigin:       10,
			AttemptRetention:           30 * 24 * time.Hour,
			CSRFTokenExpiry:            time.Hour,
			VerificationTokenExpiry:    24 * time.Hour,
			VerificationResendCooldown: 5 * time.Minute,
			ResetTokenExpiry:           time.Hour,
			RequireEmailVerification:   true,
			TimingBaseDelay:            250 * time.Millisecond,
			TimingJitter:               100 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Requests:     100,
			Window:       time.Minute,
			AuthRequests: 20,
			AuthWindow:   time.Minute,
		},
		Cookie: CookieConfig{Secure: true, SameSite: "strict"},
		Email:  EmailConfig{Provider: "log", From: "no-reply@localhost", AWSRegion: "us-east-1", BaseURL: "http://localhost:3000"},
	}
}

// Load reads .env, then the optional TOML file named by AUTH_CONFIG_FILE,
// then environment variables. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("AUTH_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Port = getEnv("PORT", s.Port)
	s.Env = getEnv("ENV", s.Env)
	s.LogLevel = getEnv("LOG_LEVEL", s.LogLevel)
	s.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", s.AllowedOrigins)
	s.TrustedProxies = getEnvAsList("TRUSTED_PROXIES", s.TrustedProxies)
	s.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvAsDuration("SERVER_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.CleanupInterval = getEnvAsDuration("CLEANUP_INTERVAL", s.CleanupInterval)
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = defaultAllowedOrigins(s.Env)
	}

	d := &cfg.Database
	d.Host = getEnv("DB_HOST", d.Host)
	d.Port = getEnvAsInt("DB_PORT", d.Port)
	d.User = getEnv("DB_USER", d.User)
	d.Password = getEnv("DB_PASSWORD", d.Password)
	d.Name = getEnv("DB_NAME", d.Name)
	d.SSLMode = getEnv("DB_SSLMODE", d.SSLMode)
	d.MaxConns = int32(getEnvAsInt("DB_MAX_CONNS", int(d.MaxConns)))
	d.MinConns = int32(getEnvAsInt("DB_MIN_CONNS", int(d.MinConns)))
	d.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", d.MaxConnLifetime)
	d.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", d.MaxConnIdleTime)
	d.HealthCheckPeriod = getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", d.HealthCheckPeriod)
	d.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", d.AutoMigrate)

	cfg.Storage.Backend = strings.ToLower(getEnv("STORAGE_BACKEND", cfg.Storage.Backend))
	cfg.Storage.CSRFBackend = strings.ToLower(getEnv("CSRF_BACKEND", cfg.Storage.CSRFBackend))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	t := &cfg.Tokens
	t.AccessSecret = getEnv("ACCESS_TOKEN_SECRET", t.AccessSecret)
	t.RefreshSecret = getEnv("REFRESH_TOKEN_SECRET", t.RefreshSecret)
	t.Issuer = getEnv("TOKEN_ISSUER", t.Issuer)
	t.Audience = getEnv("TOKEN_AUDIENCE", t.Audience)
	t.AccessExpiry = getEnvAsDuration("ACCESS_TOKEN_EXPIRY", t.AccessExpiry)
	t.RefreshExpiry = getEnvAsDuration("REFRESH_TOKEN_EXPIRY", t.RefreshExpiry)

	p := &cfg.Password
	p.Algorithm = strings.ToLower(getEnv("PASSWORD_ALGORITHM", p.Algorithm))
	p.BcryptCost = getEnvAsInt("BCRYPT_COST", p.BcryptCost)
	p.Argon2Memory = uint32(getEnvAsInt("ARGON2_MEMORY_KIB", int(p.Argon2Memory)))
	p.Argon2Time = uint32(getEnvAsInt("ARGON2_TIME", int(p.Argon2Time)))
	p.Argon2Parallelism = uint8(getEnvAsInt("ARGON2_PARALLELISM", int(p.Argon2Parallelism)))
	p.MinLength = getEnvAsInt("PASSWORD_MIN_LENGTH", p.MinLength)
	p.MaxLength = getEnvAsInt("PASSWORD_MAX_LENGTH", p.MaxLength)
	p.RequireUpper = getEnvAsBool("PASSWORD_REQUIRE_UPPER", p.RequireUpper)
	p.RequireLower = getEnvAsBool("PASSWORD_REQUIRE_LOWER", p.RequireLower)
	p.RequireDigit = getEnvAsBool("PASSWORD_REQUIRE_DIGIT", p.RequireDigit)
	p.RequireSymbol = getEnvAsBool("PASSWORD_REQUIRE_SYMBOL", p.RequireSymbol)
	p.RejectCommon = getEnvAsBool("PASSWORD_REJECT_COMMON", p.RejectCommon)
	p.BreachCheck = getEnvAsBool("PASSWORD_BREACH_CHECK", p.BreachCheck)
	p.BreachEndpoint = getEnv("PASSWORD_BREACH_ENDPOINT", p.BreachEndpoint)
	p.BreachTimeout = getEnvAsDuration("PASSWORD_BREACH_TIMEOUT", p.BreachTimeout)

	a := &cfg.Auth
	a.SessionDuration = getEnvAsDuration("SESSION_DURATION", a.SessionDuration)
	a.RememberMeDuration = getEnvAsDuration("REMEMBER_ME_DURATION", a.RememberMeDuration)
	a.SessionIdleTimeout = getEnvAsDuration("SESSION_IDLE_TIMEOUT", a.SessionIdleTimeout)
	a.MaxLoginAttempts = getEnvAsInt("MAX_LOGIN_ATTEMPTS", a.MaxLoginAttempts)
	a.LockoutDuration = getEnvAsDuration("LOCKOUT_DURATION", a.LockoutDuration)
	a.AttemptWindow = getEnvAsDuration("ATTEMPT_WINDOW", a.AttemptWindow)
	a.MaxAttemptsPerOrigin = getEnvAsInt("MAX_ATTEMPTS_PER_ORIGIN", a.MaxAttemptsPerOrigin)
	a.AttemptRetention = getEnvAsDuration("ATTEMPT_RETENTION", a.AttemptRetention)
	a.CSRFTokenExpiry = getEnvAsDuration("CSRF_TOKEN_EXPIRY", a.CSRFTokenExpiry)
	a.VerificationTokenExpiry = getEnvAsDuration("VERIFICATION_TOKEN_EXPIRY", a.VerificationTokenExpiry)
	a.VerificationResendCooldown = getEnvAsDuration("VERIFICATION_RESEND_COOLDOWN", a.VerificationResendCooldown)
	a.ResetTokenExpiry = getEnvAsDuration("RESET_TOKEN_EXPIRY", a.ResetTokenExpiry)
	a.RequireEmailVerification = getEnvAsBool("REQUIRE_EMAIL_VERIFICATION", a.RequireEmailVerification)
	a.TimingBaseDelay = getEnvAsDuration("LOGIN_TIMING_BASE_DELAY", a.TimingBaseDelay)
	a.TimingJitter = getEnvAsDuration("LOGIN_TIMING_JITTER", a.TimingJitter)
	a.SessionCheckFailClosed = getEnvAsBool("SESSION_CHECK_FAIL_CLOSED", a.SessionCheckFailClosed)

	r := &cfg.RateLimit
	r.Requests = getEnvAsInt("RATE_LIMIT_REQUESTS", r.Requests)
	r.Window = getEnvAsDuration("RATE_LIMIT_WINDOW", r.Window)
	r.AuthRequests = getEnvAsInt("AUTH_RATE_LIMIT_REQUESTS", r.AuthRequests)
	r.AuthWindow = getEnvAsDuration("AUTH_RATE_LIMIT_WINDOW", r.AuthWindow)

	cfg.Cookie.Domain = getEnv("COOKIE_DOMAIN", cfg.Cookie.Domain)
	cfg.Cookie.Secure = getEnvAsBool("COOKIE_SECURE", cfg.Cookie.Secure)
	cfg.Cookie.SameSite = strings.ToLower(getEnv("COOKIE_SAMESITE", cfg.Cookie.SameSite))

	cfg.Email.Provider = strings.ToLower(getEnv("EMAIL_PROVIDER", cfg.Email.Provider))
	cfg.Email.From = getEnv("EMAIL_FROM", cfg.Email.From)
	cfg.Email.AWSRegion = getEnv("AWS_REGION", cfg.Email.AWSRegion)
	cfg.Email.BaseURL = getEnv("APP_BASE_URL", cfg.Email.BaseURL)
}

// Validate rejects configurations that would weaken the service
func (c *Config) Validate() error {
	if err := validateSecret("ACCESS_TOKEN_SECRET", c.Tokens.AccessSecret, c.Server.Env); err != nil {
		return err
	}
	if err := validateSecret("REFRESH_TOKEN_SECRET", c.Tokens.RefreshSecret, c.Server.Env); err != nil {
		return err
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		return fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	switch c.Storage.Backend {
	case StoragePostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres storage backend")
		}
	case StorageMemory:
		if c.Server.Env == "production" {
			return fmt.Errorf("memory storage backend is not allowed in production")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q (got %q)", StoragePostgres, StorageMemory, c.Storage.Backend)
	}

	switch c.Storage.CSRFBackend {
	case CSRFBackendStore, CSRFBackendRedis:
	default:
		return fmt.Errorf("CSRF_BACKEND must be %q or %q (got %q)", CSRFBackendStore, CSRFBackendRedis, c.Storage.CSRFBackend)
	}

	switch c.Password.Algorithm {
	case "bcrypt":
		if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
			return fmt.Errorf("BCRYPT_COST must be between 10 and 31 (got %d)", c.Password.BcryptCost)
		}
	case "argon2id":
	default:
		return fmt.Errorf("PASSWORD_ALGORITHM must be bcrypt or argon2id (got %q)", c.Password.Algorithm)
	}

	if c.Password.MinLength < 8 || c.Password.MaxLength < c.Password.MinLength {
		return fmt.Errorf("password length bounds are invalid (min %d, max %d)", c.Password.MinLength, c.Password.MaxLength)
	}
	if c.Password.Algorithm == "bcrypt" && c.Password.MaxLength > bcryptMaxBytes {
		return fmt.Errorf("PASSWORD_MAX_LENGTH must be at most %d with bcrypt (got %d)", bcryptMaxBytes, c.Password.MaxLength)
	}

	if c.Auth.MaxLoginAttempts < 1 || c.Auth.MaxAttemptsPerOrigin < 1 {
		return fmt.Errorf("attempt thresholds must be positive")
	}

	for name, d := range map[string]time.Duration{
		"ACCESS_TOKEN_EXPIRY":       c.Tokens.AccessExpiry,
		"REFRESH_TOKEN_EXPIRY":      c.Tokens.RefreshExpiry,
		"SESSION_DURATION":          c.Auth.SessionDuration,
		"REMEMBER_ME_DURATION":      c.Auth.RememberMeDuration,
		"LOCKOUT_DURATION":          c.Auth.LockoutDuration,
		"ATTEMPT_WINDOW":            c.Auth.AttemptWindow,
		"CSRF_TOKEN_EXPIRY":         c.Auth.CSRFTokenExpiry,
		"VERIFICATION_TOKEN_EXPIRY": c.Auth.VerificationTokenExpiry,
		"RESET_TOKEN_EXPIRY":        c.Auth.ResetTokenExpiry,
		"RATE_LIMIT_WINDOW":         c.RateLimit.Window,
		"AUTH_RATE_LIMIT_WINDOW":    c.RateLimit.AuthWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}

	if c.Tokens.AccessExpiry >= c.Tokens.RefreshExpiry {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRY must be shorter than REFRESH_TOKEN_EXPIRY")
	}

	switch c.Cookie.SameSite {
	case "strict", "lax", "none":
	default:
		return fmt.Errorf("COOKIE_SAMESITE must be strict, lax or none")
	}

	switch c.Email.Provider {
	case "log", "ses":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be log or ses (got %q)", c.Email.Provider)
	}

	return nil
}

// validateSecret enforces minimum security standards for signing secrets
func validateSecret(name, secret, env string) error {
	if secret == "" {
		return fmt.Errorf("%s is required", name)
	}

	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultAllowedOrigins(env string) []string {
	if env == "production" {
		return []string{} // Default to no origins in production
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
