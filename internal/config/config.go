package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

		Listen    Listen    `envPrefix:"LISTEN_"`
		AdminAddr string    `env:"ADMIN_ADDR" envDefault:":8080"`
		Tiles     Tiles     `envPrefix:"TILE_"`
		ShmPath   string    `env:"SHM_PATH"`
		Store     Store     `envPrefix:"STORE_"`
		Redis     Redis     `envPrefix:"REDIS_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`

		ServerAddr   string   `env:"SERVER_ADDR" envDefault:"127.0.0.1:7040"`
		Drawable     Drawable `envPrefix:"DRAWABLE_"`
		DrawablesDir string   `env:"DRAWABLES_DIR"`
	}

	Listen struct {
		Network string `env:"NETWORK" envDefault:"tcp" validate:"oneof=tcp unix"`
		Addr    string `env:"ADDR" envDefault:":7040" validate:"required"`
	}

	Tiles struct {
		Width   int   `env:"WIDTH" envDefault:"64" validate:"min=1,max=1024"`
		Height  int   `env:"HEIGHT" envDefault:"64" validate:"min=1,max=1024"`
		CacheKB int64 `env:"CACHE_KB" envDefault:"65536" validate:"min=0"`
	}

	Store struct {
		Type       string `env:"TYPE" envDefault:"memory" validate:"oneof=memory file sqlite redis disabled"`
		FileDir    string `env:"FILE_DIR" envDefault:"/data/tiles" validate:"required_if=Type file"`
		SQLitePath string `env:"SQLITE_PATH" envDefault:"/data/tiles.db" validate:"required_if=Type sqlite"`
		HotTiles   int    `env:"HOT_TILES" envDefault:"0" validate:"min=0"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD"`
		DB       int           `env:"DB" envDefault:"0" validate:"min=0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}

	Telemetry struct {
		Enabled      bool   `env:"ENABLED" envDefault:"false"`
		ServiceName  string `env:"SERVICE_NAME" envDefault:"tilewire"`
		Environment  string `env:"ENVIRONMENT" envDefault:"development"`
		OTLPEndpoint string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317" validate:"required_if=Enabled true"`
	}

	// Drawable seeds the server with one drawable, and tells the client
	// which drawable to walk.
	Drawable struct {
		ID     int32 `env:"ID" envDefault:"1" validate:"min=0"`
		Width  int   `env:"WIDTH" envDefault:"1024" validate:"min=1"`
		Height int   `env:"HEIGHT" envDefault:"1024" validate:"min=1"`
		BPP    int   `env:"BPP" envDefault:"4" validate:"min=1,max=4"`
	}
)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// TileCacheBytes is the client cache budget advertised at handshake.
func (c *Config) TileCacheBytes() int64 {
	return c.Tiles.CacheKB * 1024
}
