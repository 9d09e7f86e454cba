package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	TokenSecret string
	DevLogging  bool

	// scheduler loop
	TickInterval    time.Duration
	LookAhead       time.Duration
	DeliveryTimeout time.Duration
	OverdueGrace    time.Duration

	// bounded retry policy (deliberately configurable)
	RetryMaxAttempts   int
	RetryBackoffWindow time.Duration

	// job-status event stream; empty broker list disables the consumer
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		TokenSecret: mustGetenv("TOKEN_SECRET"),
		DevLogging:  getenv("DEV_LOGGING", "false") == "true",

		TickInterval:    getdur("TICK_INTERVAL", time.Minute),
		LookAhead:       getdur("LOOK_AHEAD", 5*time.Minute),
		DeliveryTimeout: getdur("DELIVERY_TIMEOUT", 10*time.Second),
		OverdueGrace:    getdur("OVERDUE_GRACE", 48*time.Hour),

		RetryMaxAttempts:   getint("RETRY_MAX_ATTEMPTS", 3),
		RetryBackoffWindow: getdur("RETRY_BACKOFF_WINDOW", 6*time.Hour),

		KafkaTopic:   getenv("KAFKA_TOPIC", "job-status"),
		KafkaGroupID: getenv("KAFKA_GROUP_ID", "nudge"),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	brokers := strings.Split(getenv("KAFKA_BROKERS", ""), ",")
	for _, b := range brokers {
		b = strings.TrimSpace(b)
		if b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getdur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getint(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
