package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"reactor-lab/internal/config"
	"reactor-lab/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.Config) error {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	// Concurrent dispatchers contend for the write lock, let them wait
	// instead of erroring out.
	dsn := cfg.Database.Path + "?_busy_timeout=5000&_journal_mode=WAL"

	var err error
	DB, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if err := DB.AutoMigrate(
		&model.User{},
		&model.Session{},
		&model.Experiment{},
		&model.ExperimentResult{},
	); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if err := ensureAdminUser(cfg); err != nil {
		return err
	}

	log.Println("database initialized")
	return nil
}

// ensureAdminUser creates the bootstrap account on first startup.
func ensureAdminUser(cfg *config.Config) error {
	username := cfg.Auth.AdminUsername
	password := cfg.Auth.AdminPassword
	if username == "" || password == "" {
		return fmt.Errorf("auth.admin_username and auth.admin_password must be configured")
	}

	var count int64
	if err := DB.Model(&model.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return fmt.Errorf("look up admin user: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	user := &model.User{Username: username, PasswordHash: string(hash)}
	if err := DB.Create(user).Error; err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	log.Printf("created admin user %q", username)
	return nil
}
