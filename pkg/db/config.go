package db

import (
	"time"

	"github.com/smallbiznis/txledger/internal/config"
)

type Config struct {
	Type             string
	Host             string
	Port             string
	Name             string
	User             string
	Password         string
	SSLMode          string
	MaxIdleConn      int
	MaxOpenConn      int
	ConnMaxLifetime  int
	ConnMaxIdleTime  int
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Type:             cfg.DBType,
		Host:             cfg.DBHost,
		Port:             cfg.DBPort,
		Name:             cfg.DBName,
		User:             cfg.DBUser,
		Password:         cfg.DBPassword,
		SSLMode:          cfg.DBSSLMode,
		MaxIdleConn:      cfg.DBMaxIdleConn,
		MaxOpenConn:      cfg.DBMaxOpenConn,
		ConnMaxLifetime:  cfg.DBConnMaxLifetime,
		ConnMaxIdleTime:  cfg.DBConnMaxIdleTime,
		LockTimeout:      cfg.DBLockTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
	}
}
