package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLength is the shortest HS256 signing secret accepted at startup.
const MinSecretLength = 32

var ErrInvalidConfig = errors.New("invalid configuration")

type DatabaseConfig struct {
	Host             string
	Port             string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
}

func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" port=" + c.Port + " sslmode=disable TimeZone=UTC"
}

type ServerConfig struct {
	Port string
	Env  string
}

type AdminConfig struct {
	Username string
	Password string
}

// TokenConfig carries the signing material and lifetimes for issued tokens.
type TokenConfig struct {
	Secret          []byte
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// StoreConfig selects the refresh token backend.
type StoreConfig struct {
	Backend string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	RefreshPerSecond float64
	RefreshBurst     int
}

type Config struct {
	Database  *DatabaseConfig
	Server    *ServerConfig
	Admin     *AdminConfig
	Token     *TokenConfig
	Store     *StoreConfig
	Redis     *RedisConfig
	RateLimit *RateLimitConfig
}

const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

// LoadConfig reads an optional dotenv file and then the process environment.
// A missing dotenv file is not an error; a malformed one is.
func LoadConfig(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	dbCfg := &DatabaseConfig{
		Host:             getEnv("POSTGRES_HOST", "localhost"),
		Port:             getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
	}
	serverCfg := &ServerConfig{
		Port: getEnv("SERVER_PORT", "8080"),
		Env:  getEnv("APP_ENV", "production"),
	}
	adminCfg := &AdminConfig{
		Username: os.Getenv("ADMIN_USERNAME"),
		Password: os.Getenv("ADMIN_PASSWORD"),
	}

	accessTTL, err := getDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	tokenCfg := &TokenConfig{
		Secret:          []byte(os.Getenv("JWT_SECRET")),
		Issuer:          getEnv("JWT_ISSUER", "session-token-service"),
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
	}

	storeTimeout, err := getDuration("STORE_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, err
	}
	storeCfg := &StoreConfig{
		Backend: strings.ToLower(getEnv("REFRESH_STORE", StoreBackendPostgres)),
		Timeout: storeTimeout,
	}

	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	redisCfg := &RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	perSecond, err := getFloat("REFRESH_RATE_PER_SECOND", 1)
	if err != nil {
		return nil, err
	}
	burst, err := getInt("REFRESH_RATE_BURST", 5)
	if err != nil {
		return nil, err
	}
	rateCfg := &RateLimitConfig{RefreshPerSecond: perSecond, RefreshBurst: burst}

	cfg := &Config{dbCfg, serverCfg, adminCfg, tokenCfg, storeCfg, redisCfg, rateCfg}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the token subsystem cannot run with.
func (c *Config) Validate() error {
	if len(c.Token.Secret) < MinSecretLength {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", ErrInvalidConfig, MinSecretLength)
	}
	if strings.TrimSpace(c.Token.Issuer) == "" {
		return fmt.Errorf("%w: JWT_ISSUER must not be empty", ErrInvalidConfig)
	}
	if c.Token.AccessTokenTTL <= 0 {
		return fmt.Errorf("%w: ACCESS_TOKEN_TTL must be positive", ErrInvalidConfig)
	}
	if c.Token.RefreshTokenTTL <= c.Token.AccessTokenTTL {
		return fmt.Errorf("%w: REFRESH_TOKEN_TTL must exceed ACCESS_TOKEN_TTL", ErrInvalidConfig)
	}
	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return fmt.Errorf("%w: unknown REFRESH_STORE %q", ErrInvalidConfig, c.Store.Backend)
	}
	if c.RateLimit.RefreshPerSecond <= 0 || c.RateLimit.RefreshBurst <= 0 {
		return fmt.Errorf("%w: refresh rate limit must be positive", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return f, nil
}
