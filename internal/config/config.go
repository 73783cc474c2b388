package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds every runtime setting, read from the environment.
type Config struct {
	Env      string `env:"ENV" env-default:"production"`
	HTTP     HTTPServer
	Database Database
	Redis    Redis
	Auth     Auth
	Face     Face
}

type HTTPServer struct {
	Port            string        `env:"HTTP_PORT" env-default:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

type Database struct {
	DSN                string        `env:"DATABASE_DSN" env-default:"host=postgres user=postgres password=postgres dbname=tirelire port=5432 sslmode=disable"`
	MaxIdleConnections int           `env:"DB_MAX_IDLE_CONNECTIONS" env-default:"5"`
	MaxOpenConnections int           `env:"DB_MAX_OPEN_CONNECTIONS" env-default:"10"`
	ConnMaxLifetime    time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"1h"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" env-default:"redis:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
}

type Auth struct {
	JWTSecret   string `env:"JWT_SECRET" env-default:"dev-secret"`
	JWTAudience string `env:"JWT_AUDIENCE" env-default:""`
}

// Face configures the recognition pipeline: where the model assets live, the
// distance below which two descriptors count as the same identity, and how
// long a remote image fetch may take before it is abandoned.
type Face struct {
	ModelsPath     string        `env:"FACE_MODELS_PATH" env-default:"./models"`
	MatchThreshold float64       `env:"FACE_MATCH_THRESHOLD" env-default:"0.45"`
	FetchTimeout   time.Duration `env:"IMAGE_FETCH_TIMEOUT" env-default:"10s"`
}

// MustLoad reads the configuration from the environment and exits on failure.
func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("cannot read config from environment: %s", err)
	}
	return &cfg
}
