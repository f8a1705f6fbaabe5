package database

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, user, pass, host, port, name string) (*sqlx.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	cfg.DBName = name
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping mysql %s", cfg.Addr)
	}
	return db, nil
}
