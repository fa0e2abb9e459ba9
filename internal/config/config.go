package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB      DBConfig
	Server  ServerConfig
	JWT     JWTConfig
	SMTP    SMTPConfig
	Storage StorageConfig
	Upload  UploadConfig
	Tokens  TokenConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type ServerConfig struct {
	Port string
	// PublicURL is the externally reachable base URL used to build
	// verification and download links.
	PublicURL string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

type StorageConfig struct {
	// Backend selects "local" (default) or "s3".
	Backend string
	Root    string
	S3      S3Config
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type UploadConfig struct {
	MaxSizeBytes      int64
	AllowedExtensions []string
}

type TokenConfig struct {
	// SecretKey signs verification tokens; independent of the JWT secret.
	SecretKey       string
	VerificationTTL time.Duration
	GrantTTL        time.Duration
	ReaperSpec      string
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "docdrop"),
			Password: getEnv("DB_PASSWORD", "docdrop_secret"),
			Name:     getEnv("DB_NAME", "docdrop"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			PublicURL: strings.TrimSuffix(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@docdrop.local"),
			FromName: getEnv("SMTP_FROM_NAME", "DocDrop"),
			TLS:      getEnvAsBool("SMTP_TLS", true),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "local"),
			Root:    getEnv("STORAGE_ROOT", "uploads"),
			S3: S3Config{
				Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("S3_ACCESS_KEY", "docdrop"),
				SecretKey: getEnv("S3_SECRET_KEY", "docdrop_secret"),
				Bucket:    getEnv("S3_BUCKET", "docdrop"),
				UseSSL:    getEnvAsBool("S3_USE_SSL", false),
			},
		},
		Upload: UploadConfig{
			MaxSizeBytes:      getEnvAsInt64("UPLOAD_MAX_BYTES", 16*1024*1024),
			AllowedExtensions: getEnvAsList("UPLOAD_ALLOWED_EXTENSIONS", []string{"pptx", "docx", "xlsx"}),
		},
		Tokens: TokenConfig{
			SecretKey:       getEnv("TOKEN_SECRET", "change-me-too-in-production"),
			VerificationTTL: getEnvAsDuration("VERIFICATION_TOKEN_TTL", 1*time.Hour),
			GrantTTL:        getEnvAsDuration("DOWNLOAD_GRANT_TTL", 1*time.Hour),
			ReaperSpec:      getEnv("GRANT_REAPER_SPEC", "@every 15m"),
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

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		parts := strings.Split(value, ",")
		cleaned := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return fallback
}
