package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser    string
	DBPass    string
	DBHost    string
	DBPort    string
	DBName    string
	SSLMode   string
	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string
	ApiPort   string
	JWTSecret string

	// MatchRadiusKm bounds the GEO search for drivers near a pickup.
	MatchRadiusKm float64
}

// New loads and validates configuration from environment variables.
// NATS is optional: if the host is unset, NatsAddr() returns "" and
// the notifier pieces simply don't start.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("RIDEWELL_POSTGRES_USER"),
		DBPass:        os.Getenv("RIDEWELL_POSTGRES_PASSWORD"),
		DBHost:        os.Getenv("RIDEWELL_POSTGRES_HOST"),
		DBPort:        os.Getenv("RIDEWELL_POSTGRES_PORT"),
		DBName:        os.Getenv("RIDEWELL_POSTGRES_DB"),
		SSLMode:       os.Getenv("RIDEWELL_POSTGRES_SSLMODE"),
		RedisHost:     os.Getenv("RIDEWELL_REDIS_HOST"),
		RedisPort:     os.Getenv("RIDEWELL_REDIS_PORT"),
		NatsHost:      os.Getenv("RIDEWELL_NATS_HOST"),
		NatsPort:      os.Getenv("RIDEWELL_NATS_PORT"),
		ApiPort:       os.Getenv("RIDEWELL_API_PORT"),
		JWTSecret:     os.Getenv("RIDEWELL_JWT_SECRET"),
		MatchRadiusKm: getEnvFloat("RIDEWELL_MATCH_RADIUS_KM", 5),
	}

	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: RIDEWELL_POSTGRES_USER/HOST/DB/SSLMODE")
	}
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: RIDEWELL_REDIS_HOST/PORT")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required env: RIDEWELL_JWT_SECRET")
	}
	if cfg.ApiPort == "" {
		cfg.ApiPort = "8080"
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// NatsAddr returns "" when NATS is not configured.
func (c *Config) NatsAddr() string {
	if c.NatsHost == "" || c.NatsPort == "" {
		return ""
	}
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
