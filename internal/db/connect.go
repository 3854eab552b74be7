package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectLocal opens the local authoritative store. path is a SQLite file
// path, or ":memory:" for tests.
func ConnectLocal(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open local store %s: %w", path, err)
	}
	return db, nil
}

// HistoryDSN builds a MySQL DSN for connecting to the historical store.
func HistoryDSN(host string, port int, database, user, password string) string {
	cred := user
	if password != "" {
		cred = user + ":" + password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", cred, host, port, database)
}

// ConnectHistory opens a GORM connection to the historical store.
func ConnectHistory(host string, port int, database, user, password string) (*gorm.DB, error) {
	dsn := HistoryDSN(host, port, database, user, password)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect history %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}
