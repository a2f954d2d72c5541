package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Kafka        KafkaConfig
	Logging      LoggingConfig
	HTTP         HTTPConfig
	Store        StoreConfig
	Classifier   ClassifierConfig
	Transmission TransmissionConfig
	Retry        RetryConfig
	Digest       DigestConfig
	SMTP         SMTPConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type LoggingConfig struct {
	Level string
}

type HTTPConfig struct {
	Addr string
}

type StoreConfig struct {
	// PostgresURL selects the pgx-backed store; empty keeps the in-memory one.
	PostgresURL string
}

type ClassifierConfig struct {
	// DefaultClinicID enables the permissive fallback resolver. Empty means
	// strict: a resource with no resolvable clinic id is rejected.
	DefaultClinicID string
}

type TransmissionConfig struct {
	Topic             string
	ConversionTopic   string
	EndpointURL       string
	Timeout           time.Duration
	Workers           int
	ReceiveWait       time.Duration
	SendingApp        string
	SendingFacility   string
	ReceivingApp      string
	ReceivingFacility string
}

type RetryConfig struct {
	Topic         string
	MaxAttempts   int
	BaseDelay     time.Duration
	SweepInterval time.Duration
	BatchSize     int
}

type DigestConfig struct {
	Enabled    bool
	Hour       int
	Recipients []string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}
	return &Config{
		Kafka: KafkaConfig{
			Brokers: parseList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getEnv("KAFKA_GROUP_ID", "adt-bridge"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Store: StoreConfig{
			PostgresURL: getEnv("POSTGRES_URL", ""),
		},
		Classifier: ClassifierConfig{
			DefaultClinicID: getEnv("DEFAULT_CLINIC_ID", ""),
		},
		Transmission: TransmissionConfig{
			Topic:             getEnv("KAFKA_HL7_TOPIC", "hl7-out"),
			ConversionTopic:   getEnv("KAFKA_FHIR_TOPIC", "fhir-adt"),
			EndpointURL:       getEnv("PCR_ENDPOINT_URL", "http://localhost:9090/pcr"),
			Timeout:           getEnvDuration("PCR_TIMEOUT", 30*time.Second),
			Workers:           getEnvInt("PIPELINE_WORKERS", 10),
			ReceiveWait:       getEnvDuration("QUEUE_RECEIVE_WAIT", 5*time.Second),
			SendingApp:        getEnv("HL7_SENDING_APP", "FHIR_SYSTEM"),
			SendingFacility:   getEnv("HL7_SENDING_FACILITY", "CLINIC_ID"),
			ReceivingApp:      getEnv("HL7_RECEIVING_APP", "PCR"),
			ReceivingFacility: getEnv("HL7_RECEIVING_FACILITY", "Ontario"),
		},
		Retry: RetryConfig{
			Topic:         getEnv("KAFKA_RETRY_TOPIC", "hl7-retry"),
			MaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 5),
			BaseDelay:     getEnvDuration("RETRY_BASE_DELAY", 10*time.Second),
			SweepInterval: getEnvDuration("RETRY_SWEEP_INTERVAL", 1*time.Minute),
			BatchSize:     getEnvInt("RETRY_BATCH_SIZE", 10),
		},
		Digest: DigestConfig{
			Enabled:    getEnvBool("DIGEST_ENABLED", true),
			Hour:       getEnvInt("DIGEST_HOUR", 7),
			Recipients: parseList(getEnv("DIGEST_RECIPIENTS", "")),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 25),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			Sender:   getEnv("SMTP_SENDER", "adt-bridge@localhost"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
