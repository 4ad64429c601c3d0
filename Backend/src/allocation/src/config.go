package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	HTTPAddr    string
	DBPath      string
	RabbitURL   string
	Exchange    string
	SeedOnStart bool

	// Espera máxima por acceso exclusivo; 0 deshabilita el límite
	AcquireTimeout time.Duration

	// Nombres de colas
	QAllocateReq string
	QAllocateRes string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func LoadConfig() Config {
	// overlay opcional para desarrollo local
	_ = godotenv.Load()

	return Config{
		ServiceName:    getenv("ALLOC_SERVICE_NAME", "allocation"),
		HTTPAddr:       getenv("ALLOC_HTTP_ADDR", ":8080"),
		DBPath:         getenv("ALLOC_DB_PATH", "allocation.db"),
		RabbitURL:      getenv("RABBITMQ_URL", ""),
		Exchange:       getenv("ALLOC_EXCHANGE", "stock.events"),
		SeedOnStart:    getenv("ALLOC_SEED", "false") == "true",
		AcquireTimeout: getdur("ALLOC_ACQUIRE_TIMEOUT", 5*time.Second),

		QAllocateReq: getenv("Q_STOCK_ALLOCATE_REQUEST", "stock.allocate.request"),
		QAllocateRes: getenv("Q_STOCK_ALLOCATE_RESULT", "stock.allocate.result"),
	}
}

const ShutdownGrace = 10 * time.Second
