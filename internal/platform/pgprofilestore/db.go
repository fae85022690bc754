package pgprofilestore

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to Postgres via gorm's postgres driver and returns a *gorm.DB
// ready to be passed to New. Kept separate from New so callers that already
// hold a *gorm.DB (e.g. shared across repositories) can skip it.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("pgprofilestore: failed to open postgres: %w", err)
	}
	return db, nil
}
