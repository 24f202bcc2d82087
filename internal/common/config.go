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
	DocAI    DocAIConfig
	Gemini   GeminiConfig
	Progress ProgressConfig
	Pipeline PipelineConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	HealthTimeout   time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr        string
	MetricsAddr string
	MaxUploadMB int64
}

// OCRConfig holds local OCR engine configuration
type OCRConfig struct {
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	DPI           int
	MaxPages      int
	TessdataDir   string
	Preprocess    bool
	ArtifactDir   string
	Timeout       time.Duration
}

// DocAIConfig holds cloud document-AI configuration
type DocAIConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// GeminiConfig holds Gemini API configuration
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// ProgressConfig holds stage-event publishing configuration
type ProgressConfig struct {
	NATSURL     string
	NATSSubject string
}

// PipelineConfig holds worker and orchestration configuration. When
// JobsNATSURL is set, jobs are distributed over NATS so multiple
// service processes share the load; otherwise each process runs its
// own in-memory queue.
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
	JobsNATSURL    string
	JobsSubject    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			HealthTimeout:   getEnvAsDuration("DB_HEALTH_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr:        getEnv("HTTP_ADDR", ":8080"),
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
			MaxUploadMB: int64(getEnvAsInt("MAX_UPLOAD_MB", 25)),
		},
		OCR: OCRConfig{
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "eng"),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MaxPages:      getEnvAsInt("OCR_MAX_PAGES", 0),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			Preprocess:    getEnvAsBool("OCR_PREPROCESS", true),
			ArtifactDir:   getEnv("ARTIFACT_DIR", "./tmp"),
			Timeout:       getEnvAsDuration("OCR_TIMEOUT", 2*time.Minute),
		},
		DocAI: DocAIConfig{
			Endpoint: getEnv("DOCAI_ENDPOINT", ""),
			APIKey:   getEnv("DOCAI_API_KEY", ""),
			Timeout:  getEnvAsDuration("DOCAI_TIMEOUT", 60*time.Second),
		},
		Gemini: GeminiConfig{
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			BaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Temperature: getEnvAsFloat32("GEMINI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("GEMINI_TIMEOUT", 45*time.Second),
		},
		Progress: ProgressConfig{
			NATSURL:     getEnv("NATS_URL", ""),
			NATSSubject: getEnv("NATS_SUBJECT", "invoices.progress"),
		},
		Pipeline: PipelineConfig{
			Workers:        getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:      getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("PIPELINE_PROCESS_TIMEOUT", 3*time.Minute),
			JobsNATSURL:    getEnv("JOBS_NATS_URL", ""),
			JobsSubject:    getEnv("JOBS_SUBJECT", "invoices.jobs"),
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
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
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.DocAI.Endpoint == "" && c.Gemini.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "at least one of DOCAI_ENDPOINT or GEMINI_API_KEY is required", ErrInvalidInput)
	}
	return nil
}
