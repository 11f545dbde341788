package global

import (
	"chunk-relay/backend/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	Config *config.Config
	Logger zerolog.Logger
	Mdb    *gorm.DB
	// Rdb is set when the transport runs on Redis.
	Rdb *redis.Client
)
