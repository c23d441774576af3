package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	LogFile     string

	HTTPAddr       string
	GRPCAddr       string
	RequestTimeout time.Duration
	AdminToken     string // bearer token for the gRPC and HTTP shop methods, empty disables them

	MySQLDSN      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Reservation
	ReserveTTL    time.Duration
	SweepSchedule string
	DialogTTL     time.Duration

	// Telegram
	BotToken   string
	ChannelID  int64
	ChannelURL string
	Admins     []int64

	// Kafka, publishing is disabled when no brokers are set
	KafkaBrokers []string
	KafkaTopic   string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", "logs/lot-shop.log"),

		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:       getEnv("GRPC_ADDR", ":50051"),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),

		MySQLDSN:      getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/lotshop?parseTime=true"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		ReserveTTL:    getEnvAsDuration("RESERVE_TTL", 10*time.Minute),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 5s"),
		DialogTTL:     getEnvAsDuration("DIALOG_TTL", 15*time.Minute),

		BotToken:   getEnv("BOT_TOKEN", ""),
		ChannelID:  getEnvAsInt64("CHANNEL_ID", 0),
		ChannelURL: getEnv("CHANNEL_URL", ""),
		Admins:     getEnvAsInt64List("ADMINS"),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "lot-shop.sales"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := time.ParseDuration(value)
	if err != nil || result <= 0 {
		return defaultValue
	}
	return result
}

// getEnvAsList splits a comma-separated value, dropping empty entries.
func getEnvAsList(key string) []string {
	var list []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getEnvAsInt64List(key string) []int64 {
	var ids []int64
	for _, item := range getEnvAsList(key) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
