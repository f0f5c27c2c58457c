package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Posting  PostingConfig
	Phone    PhoneConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string // "sqlite" | "postgres"
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr       string
	UploadDir      string
	MaxUploadBytes int64
}

// OCRConfig holds recognition engine configuration
type OCRConfig struct {
	Tesseract        string
	Pdftotext        string
	Pdftoppm         string
	TesseractLang    string
	DPI              int
	MaxPages         int
	PoolSize         int
	RecognizeTimeout time.Duration
	Workers          int
	QueueSize        int
}

// PostingConfig holds destination poster configuration
type PostingConfig struct {
	QuickBooksEndpoint string
	CCCEndpoint        string
	CallTimeout        time.Duration
}

// PhoneConfig holds temporary SMS number configuration
type PhoneConfig struct {
	Region string
	TTL    time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			DSN:             getEnv("DB_URL", "./data/invoices.db"),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 5<<20)),
		},
		OCR: OCRConfig{
			Tesseract:        getEnv("TESSERACT_BIN", "tesseract"),
			Pdftotext:        getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:         getEnv("PDFTOPPM_BIN", "pdftoppm"),
			TesseractLang:    getEnv("TESSERACT_LANG", "eng"),
			DPI:              getEnvAsInt("OCR_DPI", 300),
			MaxPages:         getEnvAsInt("OCR_MAX_PAGES", 0),
			PoolSize:         getEnvAsInt("OCR_POOL_SIZE", 1),
			RecognizeTimeout: getEnvAsDuration("OCR_TIMEOUT", 2*time.Minute),
			Workers:          getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:        getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
		},
		Posting: PostingConfig{
			QuickBooksEndpoint: getEnv("QUICKBOOKS_ENDPOINT", ""),
			CCCEndpoint:        getEnv("CCC_ENDPOINT", ""),
			CallTimeout:        getEnvAsDuration("POSTING_TIMEOUT", 30*time.Second),
		},
		Phone: PhoneConfig{
			Region: getEnv("PHONE_REGION", "US"),
			TTL:    getEnvAsDuration("PHONE_NUMBER_TTL", 24*time.Hour),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.OCR.PoolSize < 1 {
		return NewAppError("CONFIG_ERROR", "OCR_POOL_SIZE must be at least 1", ErrInvalidInput)
	}
	return nil
}
