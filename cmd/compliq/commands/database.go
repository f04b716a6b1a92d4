package commands

import (
	"database/sql"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/db"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
)

// openDatabase opens and migrates the job database configured in cfg
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	dbPath := cfg.GetDatabasePath()

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
