package ltadb

import (
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteInMemoryDSN is shared by tests; cache=shared keeps every connection
// in a test on the same database.
const SqliteInMemoryDSN = "file::memory:?cache=shared"

func MakeDSNFromEnv() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		os.Getenv("DB_USERNAME"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_DATABASE"))
}

const maxDBRetries = 5

// MustConnectToDB will attempt to connect to the database maxDBRetries times. If it isn't
// successful after that number of retries then it will call log.Fatalf(), which will cause
// the server to exit. Between retry attempts it will sleep for 3 seconds.
//
// DB_DRIVER selects the backend: mysql (default) for deployments, sqlite for
// small installs and local development (DB_PATH names the database file).
func MustConnectToDB() *gorm.DB {
	var (
		err error
		db  *gorm.DB
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	retryCount := 1
	for {
		db, err = gorm.Open(openDialectorFromEnv(), gormConfig)
		switch {
		case err == nil:
			return db
		case retryCount >= maxDBRetries:
			log.Fatalf("Failed to open db: %s", err)
		default:
			retryCount++
			time.Sleep(3 * time.Second)
		}
	}
}

func openDialectorFromEnv() gorm.Dialector {
	if os.Getenv("DB_DRIVER") == "sqlite" {
		path := os.Getenv("DB_PATH")
		if path == "" {
			path = "lta.db"
		}
		return sqlite.Open(path)
	}

	return mysql.Open(MakeDSNFromEnv())
}

// ConnectToSqlite opens a sqlite database with the same gorm configuration
// the service uses. Tests pass SqliteInMemoryDSN.
func ConnectToSqlite(dsn string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}
