package models

import "gorm.io/gorm"

// MigrateTable creates or alters the engine's tables.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Company{},
		&Customer{},
		&Car{},
		&User{},
		&SellableStock{},
		&CrateStock{},
		&Invoice{},
		&InvoiceItem{},
		&Payment{},
		&Notification{},
		&IdempotencyKey{},
	)
}
