package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries every tunable for the fleet. All values come from the
// environment (plus an optional .env file); there is no config file format.
type Config struct {
	// Bind address shared by every listener.
	Host string

	// Per-listener ports. Zero disables the listener.
	SSHPort   int
	HTTPPort  int
	SMTPPort  int
	MySQLPort int
	DecoyPort int

	// Per-listener connection caps.
	SSHMaxConns   int
	HTTPMaxConns  int
	MySQLMaxConns int

	// SSH ban TTL in seconds.
	BanTime int

	// SMTP.
	MaxMessageSize int
	SMTPHostname   string

	// Logging.
	LogLevel  string
	LogFormat string

	// Optional surfaces. OpsPort 0 and empty RedisAddr disable them.
	OpsPort   int
	RedisAddr string
}

// Load reads a .env file if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:           getEnv("HOST", "0.0.0.0"),
		SSHPort:        honeypotPort("SSH_PORT", 2222),
		HTTPPort:       honeypotPort("HTTP_PORT", 8080),
		SMTPPort:       getEnvAsInt("SMTP_HONEYPOT_PORT", 2525),
		MySQLPort:      honeypotPort("MYSQL_PORT", 3306),
		DecoyPort:      getEnvAsInt("PORT", 8081),
		SSHMaxConns:    getEnvAsInt("SSH_MAX_CONNECTIONS", getEnvAsInt("MAX_CONNECTIONS", 50)),
		HTTPMaxConns:   getEnvAsInt("HTTP_MAX_CONNECTIONS", getEnvAsInt("MAX_CONNECTIONS", 100)),
		MySQLMaxConns:  getEnvAsInt("MYSQL_MAX_CONNECTIONS", getEnvAsInt("MAX_CONNECTIONS", 25)),
		BanTime:        getEnvAsInt("BAN_TIME", 300),
		MaxMessageSize: getEnvAsInt("MAX_MESSAGE_SIZE", 1048576),
		SMTPHostname:   getEnv("HOSTNAME", "mail.example.com"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		OpsPort:        getEnvAsInt("OPS_PORT", 0),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
	}

	return cfg, nil
}

// honeypotPort resolves a listener port: the listener-specific variable wins,
// then HONEYPOT_PORT, then the default. Kubernetes service-link injection can
// set HONEYPOT_PORT to "tcp://10.0.0.1:2222"; such values are treated as unset.
func honeypotPort(key string, def int) int {
	if v := os.Getenv(key); v != "" && !strings.HasPrefix(v, "tcp://") {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv("HONEYPOT_PORT"); v != "" && !strings.HasPrefix(v, "tcp://") {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
