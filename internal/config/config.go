package config

import (
	"crypto/rand"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string
	LogLevel    string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// Language model endpoint
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Canvas editing
	SectionSaveDebounce time.Duration

	// Orchestration
	GenerationWorkers int
	DiveSessionTTL    time.Duration
	DiveParallel      bool

	FrontendAddress string
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Println("Generated random JWT secret")
	}

	AppConfig = Config{
		ServerPort:          getEnv("PORT", "8080"),
		Environment:         getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "cavvy"),
		RedisAddress:        getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:           jwtSecret,
		LLMBaseURL:          getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:           getEnv("LLM_API_KEY", ""),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:          getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		SectionSaveDebounce: getEnvDuration("SECTION_SAVE_DEBOUNCE", 500*time.Millisecond),
		GenerationWorkers:   getEnvInt("GENERATION_WORKERS", 2),
		DiveSessionTTL:      getEnvDuration("DIVE_SESSION_TTL", 2*time.Hour),
		DiveParallel:        getEnvBool("DIVE_PARALLEL", false),
		FrontendAddress:     getEnv("FRONTEND_ADDRESS", "https://app.cavvy.ai"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	parsed, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("750ms", "2m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	parsed, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// generateRandomSecret generates a random secret of the specified length
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	secret := make([]byte, length)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			n = big.NewInt(int64(time.Now().UnixNano() % int64(len(charset))))
		}
		secret[i] = charset[n.Int64()]
	}
	return string(secret)
}
