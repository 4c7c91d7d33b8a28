// Package db opens the MySQL connection backing the contract store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to MySQL, creating the database when it is missing.
// An empty dsn is built from the environment:
//
//	MYSQL_DSN or MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASS, MYSQL_DB
func Open(dsn string) (*gorm.DB, error) {
	_ = loadDotEnv()
	p := params{
		host:   getenv("MYSQL_HOST", "127.0.0.1"),
		port:   getenv("MYSQL_PORT", "3306"),
		user:   getenv("MYSQL_USER", "root"),
		pass:   getenv("MYSQL_PASS", ""),
		dbname: getenv("MYSQL_DB", "contract_mesh"),
	}
	if dsn == "" {
		dsn = os.Getenv("MYSQL_DSN")
	}
	managed := dsn == ""
	if managed {
		dsn = p.dsn()
	}

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		// Only a DSN we built ourselves names a database we may create.
		if !managed || !strings.Contains(err.Error(), "Unknown database") {
			return nil, err
		}
		if cerr := p.createDatabase(); cerr != nil {
			return nil, fmt.Errorf("create database failed: %w", cerr)
		}
		if db, err = gorm.Open(mysql.Open(dsn), cfg); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	return db, nil
}

type params struct {
	host, port, user, pass, dbname string
}

func (p params) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC", p.user, p.pass, p.host, p.port, p.dbname)
}

func (p params) createDatabase() error {
	db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@tcp(%s:%s)/", p.user, p.pass, p.host, p.port))
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", p.dbname))
	return err
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
