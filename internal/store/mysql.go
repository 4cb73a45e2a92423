package store

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailledger/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// NewMySQLStore connects to a MySQL server and runs any pending schema
// migrations.
func NewMySQLStore(cfg model.MySQLConfig) (*SQLStore, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mysql database name is required")
	}

	port := cfg.Port
	if port == "" {
		port = "3306"
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, port)
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC

	db, err := sqlx.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("opening mysql db: %w", err)
	}

	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to mysql %s: %w", mc.Addr, err)
	}

	return newSQLStore(db, dialectMySQL)
}

func isMySQLDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == mysqlDuplicateEntry
}
