package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Scheduling backend
	PortalBaseURL      string
	PortalTokenBaseURL string
	PortalAPIKey       string
	PortalAppID        string
	PortalDeviceID     string
	PortalTimeout      time.Duration
	PatientJWTSecret   string

	// Smart scheduling
	MaxProfessionalsPerSpecialty int
	FetchConcurrency             int
	PhoneCountryCode             string
	AppointmentType              string
	BookingSessionTTL            time.Duration
	BookingStaleAfter            time.Duration

	// Storage
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AWS
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	BookingEventsQueueURL string

	// Itinerary email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	EmailFromName     string
	SESFromEmail      string

	// SESConfigurationSet routes SES delivery events; optional.
	SESConfigurationSet string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		PortalBaseURL:      getEnv("PORTAL_API_BASE_URL", ""),
		PortalTokenBaseURL: getEnv("PORTAL_TOKEN_BASE_URL", ""),
		PortalAPIKey:       getEnv("PORTAL_API_KEY", ""),
		PortalAppID:        getEnv("PORTAL_APP_ID", "portal-paciente"),
		PortalDeviceID:     getEnv("PORTAL_DEVICE_ID", "portal-scheduling"),
		PortalTimeout:      getEnvAsDuration("PORTAL_TIMEOUT", 20*time.Second),
		PatientJWTSecret:   getEnv("PATIENT_JWT_SECRET", ""),

		MaxProfessionalsPerSpecialty: getEnvAsInt("MAX_PROFESSIONALS_PER_SPECIALTY", 5),
		FetchConcurrency:             getEnvAsInt("FETCH_CONCURRENCY", 1),
		PhoneCountryCode:             getEnv("PHONE_COUNTRY_CODE", "55"),
		AppointmentType:              getEnv("APPOINTMENT_TYPE", "CONSULTA"),
		BookingSessionTTL:            getEnvAsDuration("BOOKING_SESSION_TTL", 30*time.Minute),
		BookingStaleAfter:            getEnvAsDuration("BOOKING_STALE_AFTER", 2*time.Minute),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:             getEnv("AWS_REGION", "sa-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BookingEventsQueueURL: getEnv("BOOKING_EVENTS_QUEUE_URL", ""),

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		EmailFromName:       getEnv("EMAIL_FROM_NAME", "Portal do Paciente"),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),
	}
}

// TokenBaseURL returns the verification-code base URL, falling back to the scheduling API.
func (c *Config) TokenBaseURL() string {
	if strings.TrimSpace(c.PortalTokenBaseURL) != "" {
		return c.PortalTokenBaseURL
	}
	return c.PortalBaseURL
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
