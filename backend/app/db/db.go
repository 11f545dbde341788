package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// Connect opens the results database. Driver is "sqlite" (default) or "mysql".
func Connect(cfg Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "chunk-relay.db"
		}
		return gorm.Open(sqlite.Open(path), gcfg)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		return gorm.Open(mysql.Open(dsn), gcfg)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}
