package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DB     DBConfig
	JWT    JWTConfig
	Server ServerConfig
	SES    SESConfig
	Invite InviteConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port string
	// AllowedOrigins is the comma-separated CORS allowlist for the
	// frontend.
	AllowedOrigins string
}

type SESConfig struct {
	Region     string
	FromEmail  string
	FromName   string
	AppBaseURL string
}

type InviteConfig struct {
	// ExpiryDays is fixed at issuance and never extended afterwards.
	ExpiryDays int
	// CodeAttempts bounds share-code generation retries on collision.
	CodeAttempts int
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "carelink"),
			Password: getEnv("DB_PASSWORD", "carelink_secret"),
			Name:     getEnv("DB_NAME", "carelink"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000"),
		},
		SES: SESConfig{
			Region:     getEnv("SES_REGION", "eu-west-1"),
			FromEmail:  getEnv("SES_FROM_EMAIL", ""),
			FromName:   getEnv("SES_FROM_NAME", "CareLink"),
			AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:3000"),
		},
		Invite: InviteConfig{
			ExpiryDays:   getEnvAsInt("INVITE_EXPIRY_DAYS", 7),
			CodeAttempts: getEnvAsInt("INVITE_CODE_ATTEMPTS", 5),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
