package utils

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// InitDatabase opens the Postgres pool. Audit timestamps written by gorm
// come from the same clock the token subsystem uses.
func InitDatabase(dsn string, clock Clock) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(clock))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}

// Migrate creates or updates the tables backing the given models.
func Migrate(db *gorm.DB, models ...any) error {
	return db.AutoMigrate(models...)
}

func gormConfig(clock Clock) *gorm.Config {
	if clock == nil {
		clock = SystemClock()
	}
	return &gorm.Config{
		NowFunc: func() time.Time {
			return clock.Now().UTC()
		},
	}
}
