package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Inference InferenceConfig
	Render    RenderConfig
	Dispatch  DispatchConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr           string
	RequestTimeout time.Duration
	UploadTmpDir   string
}

// StorageConfig holds object store configuration
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// InferenceConfig holds extraction endpoint configuration
type InferenceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RenderConfig holds certificate rendering configuration
type RenderConfig struct {
	WorkDir    string
	PythonBin  string
	ConvertBin string
	Timeout    time.Duration
}

// DispatchConfig holds per-pipeline concurrency limits
type DispatchConfig struct {
	UploadSlots  int
	ExtractSlots int
	RenderSlots  int
	JobTimeout   time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           getEnv("HTTP_ADDR", ":8080"),
			RequestTimeout: getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
			UploadTmpDir:   getEnv("UPLOAD_TMP_DIR", os.TempDir()),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "auto"),
			UseSSL:    getEnvAsBool("S3_USE_SSL", true),
		},
		Inference: InferenceConfig{
			BaseURL: getEnv("INFERENCE_URL", "http://localhost:8000"),
			Timeout: getEnvAsDuration("INFERENCE_TIMEOUT", 30*time.Second),
		},
		Render: RenderConfig{
			WorkDir:    getEnv("RENDER_WORK_DIR", "./tmp/render"),
			PythonBin:  getEnv("RENDER_PYTHON_BIN", "python3"),
			ConvertBin: getEnv("RENDER_CONVERT_BIN", "soffice"),
			Timeout:    getEnvAsDuration("RENDER_TIMEOUT", 2*time.Minute),
		},
		Dispatch: DispatchConfig{
			UploadSlots:  getEnvAsInt("UPLOAD_SLOTS", 3),
			ExtractSlots: getEnvAsInt("EXTRACT_SLOTS", 2),
			RenderSlots:  getEnvAsInt("RENDER_SLOTS", 3),
			JobTimeout:   getEnvAsDuration("JOB_TIMEOUT", 3*time.Minute),
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
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
	if c.Storage.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "S3_ENDPOINT is required", ErrInvalidInput)
	}
	if c.Storage.Bucket == "" {
		return NewAppError("CONFIG_ERROR", "S3_BUCKET is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Dispatch.UploadSlots <= 0 || c.Dispatch.ExtractSlots <= 0 || c.Dispatch.RenderSlots <= 0 {
		return NewAppError("CONFIG_ERROR", "dispatch slots must be positive", ErrInvalidInput)
	}
	return nil
}
