package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rplhub/internal/models"
)

// Open returns a connected GORM DB for one of the sqlite, postgres or mysql
// drivers. Driver errors are translated so unique violations surface as
// gorm.ErrDuplicatedKey.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return gdb, nil
}

// Migrate creates or updates the accounts and submissions tables.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&models.UserAccount{}, &models.SubmissionRow{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	// MySQL compares with a case-insensitive collation by default; usernames
	// must match exactly.
	if gdb.Dialector.Name() == "mysql" {
		for _, table := range []string{"accounts", "submissions"} {
			stmt := fmt.Sprintf("ALTER TABLE %s MODIFY username varchar(100) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL", table)
			if err := gdb.Exec(stmt).Error; err != nil {
				return fmt.Errorf("set username collation on %s: %w", table, err)
			}
		}
	}
	return nil
}
