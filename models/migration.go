package models

import (
	"log"

	"gorm.io/gorm"
)

// MigrateTable creates/updates every table this service owns.
func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&Order{}, &Drum{}, &Transaction{},
		&ScanEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
