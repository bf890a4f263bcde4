// seed-admin creates or updates the bootstrap admin user and its role.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/models"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	adminUsername = "stockbookAdmin"
	adminName     = "Stockbook Admin"
	adminRoleName = "Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_PASSWORD is required")
		os.Exit(2)
	}

	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	// Admin role has no discount ceiling.
	var role models.Role
	err := db.WithContext(ctx).Where("name = ?", adminRoleName).First(&role).Error
	if err == gorm.ErrRecordNotFound {
		role = models.Role{Name: adminRoleName, MaxDiscountPercent: decimal.NewFromInt(100)}
		if err := db.WithContext(ctx).Create(&role).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin role: %v\n", err)
			os.Exit(1)
		}
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup admin role: %v\n", err)
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username: adminUsername,
			Name:     adminName,
			Password: hashedStr,
			RoleId:   role.ID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=%s)\n", adminUsername, adminRoleName)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password": hashedStr,
		"name":     adminName,
		"role_id":  role.ID,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: username=%q (role=%s)\n", adminUsername, adminRoleName)
}
