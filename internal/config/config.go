package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	MongoURI    string
	DBName      string
	Environment string
	AppId       string
	CORSOrigins string

	// Bulk engine
	BulkChunkSize         int
	BulkHistoryLimit      int
	BulkMaxRecords        int
	BulkRequiredFields    []string
	BulkNonNegativeFields []string
	BulkVersionField      string
	BulkTemplateKey       string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "go-crm"),
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "go-crm-bulk"),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000, http://localhost:3001, http://localhost:8000"),

		BulkChunkSize:         getEnvInt("BULK_CHUNK_SIZE", 100),
		BulkHistoryLimit:      getEnvInt("BULK_HISTORY_LIMIT", 10),
		BulkMaxRecords:        getEnvInt("BULK_MAX_RECORDS", 10000),
		BulkRequiredFields:    getEnvList("BULK_REQUIRED_FIELDS", "name"),
		BulkNonNegativeFields: getEnvList("BULK_NON_NEGATIVE_FIELDS", "price"),
		BulkVersionField:      getEnv("BULK_VERSION_FIELD", "updated_at"),
		BulkTemplateKey:       getEnv("BULK_TEMPLATE_KEY", "bulk_operation_templates"),
	}, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid integer for %s (%q), using %d", key, value, fallback)
		return fallback
	}
	return n
}

// getEnvList splits a comma separated value; an empty value yields an empty list.
func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
