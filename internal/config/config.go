package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	HTTPAddr string

	// Platform-level payment rail credentials. Used as the fallback when a
	// landlord has no provider config of their own.
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortCode      string
	MpesaPasskey        string
	KopoKopoAPIKey      string
	JengaAPIKey         string

	// ProviderConfigSecret encrypts per-landlord payment credentials at rest.
	ProviderConfigSecret string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "nyumbani"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "nyumbani"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		MpesaConsumerKey:    strings.TrimSpace(getenv("MPESA_CONSUMER_KEY", "")),
		MpesaConsumerSecret: strings.TrimSpace(getenv("MPESA_CONSUMER_SECRET", "")),
		MpesaShortCode:      strings.TrimSpace(getenv("MPESA_SHORT_CODE", "")),
		MpesaPasskey:        strings.TrimSpace(getenv("MPESA_PASSKEY", "")),
		KopoKopoAPIKey:      strings.TrimSpace(getenv("KOPOKOPO_API_KEY", "")),
		JengaAPIKey:         strings.TrimSpace(getenv("JENGA_API_KEY", "")),

		ProviderConfigSecret: strings.TrimSpace(getenv("PROVIDER_CONFIG_SECRET", "")),
	}
}

// Module provides Config to the fx graph.
func Provide() Config { return Load() }

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
