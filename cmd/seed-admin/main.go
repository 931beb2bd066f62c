// seed-admin creates or updates an elevated user and prints a bearer token for it.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin -username admin -password secret
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"bitbucket.org/mmdatafocus/trading_backend/utils"
	"bitbucket.org/mmdatafocus/trading_backend/workflow"
	"gorm.io/gorm"
)

func main() {
	username := flag.String("username", envOr("SEED_ADMIN_USERNAME", "tradingAdmin"), "login name")
	password := flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "password (or SEED_ADMIN_PASSWORD)")
	name := flag.String("name", "Trading Admin", "display name")
	role := flag.String("role", string(models.UserRoleAdmin), "ADMIN or MANAGER")
	flag.Parse()

	userRole := models.UserRole(strings.ToUpper(strings.TrimSpace(*role)))
	if !userRole.IsElevated() {
		fmt.Fprintf(os.Stderr, "role must be one of %v\n", models.ElevatedRoles)
		os.Exit(1)
	}
	if strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "-password (or SEED_ADMIN_PASSWORD) is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
			os.Exit(1)
		}
	}

	hashed, err := utils.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	active := true
	var user models.User
	err = db.Where("username = ?", *username).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{Username: *username, Name: *name, Password: hashed, IsActive: &active, Role: userRole}
		if err := db.Create(&user).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created user: username=%q role=%s id=%d\n", user.Username, user.Role, user.ID)
	case err != nil:
		fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
		os.Exit(1)
	default:
		if err := db.Model(&user).Updates(map[string]any{
			"password":  hashed,
			"name":      *name,
			"is_active": true,
			"role":      userRole,
		}).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to update user: %v\n", err)
			os.Exit(1)
		}
		user.Role = userRole
		fmt.Printf("Updated user: username=%q role=%s id=%d\n", user.Username, user.Role, user.ID)
	}

	config.ConnectRedisWithRetry()
	if err := workflow.InvalidateStaffCache(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not clear staff cache: %v\n", err)
	}

	token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
