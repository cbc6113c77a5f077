// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/wall/config"
	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/pkg/database"
)

// OpenDB 打开一个独立的 sqlite 内存库并建表
func OpenDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		LogLevel: "silent",
	}}
	db, err := database.InitDB(cfg)
	if err != nil {
		tb.Fatalf("open db: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() { _ = database.Close(db) })
	return db
}
