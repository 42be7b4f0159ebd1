package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"property-monitor/internal/config"
	"property-monitor/internal/models"
)

// GormDB is the storage layer over any supported SQL dialect
type GormDB struct {
	db *gorm.DB
}

// Open connects to the configured database and verifies the connection
func Open(cfg config.DatabaseConfig, logLevel string) (*GormDB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if logLevel == "debug" {
		level = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	gdb := &GormDB{db: db}
	if err := gdb.Ping(); err != nil {
		return nil, err
	}

	log.Printf("Database: Connected (%s)", cfg.Type)
	return gdb, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "", "sqlite":
		path := cfg.SQLite.Path
		if path == "" {
			path = "data/listings.db"
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(path, "?") {
			path += "?_busy_timeout=5000"
		}
		return sqlite.Open(path), nil

	case "mysql":
		c := cfg.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, orDefault(c.Host, "mysql"), orDefaultInt(c.Port, 3306), c.Database)
		return mysql.Open(dsn), nil

	case "postgres":
		c := cfg.Postgres
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			orDefault(c.Host, "db"), orDefaultInt(c.Port, 5432), c.User, c.Password, c.Database, orDefault(c.SSLMode, "disable"))
		// lib/pq registers itself as "postgres"
		return postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn}), nil
	}

	return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
}

// NewGormDBFromDB creates a GormDB wrapper from an existing gorm.DB instance
func NewGormDBFromDB(db *gorm.DB) *GormDB {
	return &GormDB{db: db}
}

// DB returns the underlying gorm.DB instance
func (gdb *GormDB) DB() *gorm.DB {
	return gdb.db
}

// Close closes the underlying connection pool
func (gdb *GormDB) Close() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable
func (gdb *GormDB) Ping() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// InitSchema creates tables using GORM AutoMigrate. AutoMigrate only adds
// missing tables, columns and indexes.
func (gdb *GormDB) InitSchema() error {
	return gdb.db.AutoMigrate(
		&models.Listing{},
		&models.ListingChange{},
		&models.ScrapeRun{},
	)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
