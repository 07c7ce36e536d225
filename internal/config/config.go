// config.go
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	MongoDBName string
	RabbitURL   string
	Port        string
	JWTSecret   string

	// Horas del período de gracia entre la entrega confirmada y el pago
	// de la comisión al agente (ventana para disputas).
	GraceHours int

	// Tarifas de comisión. El markup es el 21% que la plataforma agrega
	// sobre el precio base del vendedor.
	CommissionMarkup   float64
	PickupAgentShare   float64
	FastAgentShare     float64
	CommissionsVersion string
}

func Load() *Config {
	// Si hay .env lo cargamos, si no seguimos con el entorno tal cual.
	_ = godotenv.Load()

	return &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://host.docker.internal:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "delivery_tracking_db"),
		RabbitURL:   getEnv("RABBIT_URL", "amqp://host.docker.internal"),
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),

		GraceHours: getEnvInt("GRACE_HOURS", 48),

		CommissionMarkup:   getEnvFloat("COMMISSION_MARKUP", 0.21),
		PickupAgentShare:   getEnvFloat("PICKUP_AGENT_SHARE", 0.70),
		FastAgentShare:     getEnvFloat("FAST_AGENT_SHARE", 0.50),
		CommissionsVersion: getEnv("COMMISSIONS_VERSION", "2024-01"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
