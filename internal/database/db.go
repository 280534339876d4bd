// Package database owns the MySQL connection pool of the booking service:
// opening it, creating the bookings, payments and seat hold tables, and
// running units of work through TxRunner.
package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/cinema-booking-service/internal/config"
)

// Pool limits.  Every booking request holds a connection for the length of
// one short transaction, so the pool is sized for concurrency, not reuse.
const (
	maxOpenConns    = 25
	connMaxLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

// DSN renders cfg as a go-sql-driver DSN.  Times are parsed into time.Time
// and read and written in UTC, which hold expiry comparisons rely on.
func DSN(cfg config.DBConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Pass
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	_ = mc.Apply(mysql.Charset("utf8mb4", "")) // Charset never fails
	return mc.FormatDSN()
}

// Open connects to the booking database and pings it before returning.
func Open(cfg config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
