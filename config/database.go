package config

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is the record store handle. It is opened once at process start,
// passed to every store and closed at shutdown.
type Database struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// InitDB opens the configured database and verifies the connection
func InitDB(cfg DBConfig, production bool, log *zap.Logger) (*Database, error) {
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("connecting to database",
		zap.String("driver", cfg.Driver),
		zap.String("host", maskHost(dsnHost(cfg.DSN))),
	)

	logLevel := logger.Warn
	if production {
		logLevel = logger.Error
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("database connection verified")
	return &Database{Gorm: gdb, SQL: sqlDB}, nil
}

// Ping checks the connection is still alive
func (d *Database) Ping() error {
	if d == nil || d.SQL == nil {
		return fmt.Errorf("database not initialized")
	}
	return d.SQL.Ping()
}

// Close releases the connection pool
func (d *Database) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// dsnHost extracts the host from a URL or key=value postgres DSN.
// SQLite DSNs are returned as-is.
func dsnHost(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Host != "" {
		return u.Hostname()
	}
	for _, part := range strings.Fields(dsn) {
		if strings.HasPrefix(part, "host=") {
			return strings.TrimPrefix(part, "host=")
		}
	}
	return dsn
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}
