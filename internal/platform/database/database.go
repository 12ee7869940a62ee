package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"apigate/internal/platform/config"
)

// New opens the gateway database. All five gateway tables (api_keys,
// org_quotas, request_logs, webhooks, webhook_deliveries) live here; business
// data lives in an external store this subsystem never touches.
func New(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}
