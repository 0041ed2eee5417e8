package postgres

import (
	"embed"
	stdliberrors "errors"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// newMigrator builds a migrate instance over the embedded migrations and
// the connection's pool.
func (c *Connection) newMigrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to open embedded migrations")
	}
	driver, err := pgxmigrate.WithInstance(c.db, &pgxmigrate.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to create migrate instance")
	}
	return m, nil
}

// Migrate applies all pending migrations.  No pending migrations is not an
// error.
func (c *Connection) Migrate() error {
	m, err := c.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !stdliberrors.Is(err, migrate.ErrNoChange) {
		version, _, _ := m.Version()
		return errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to run migrations").
			WithDetailf("current_version=%d", version)
	}

	version, dirty, err := m.Version()
	if err != nil && !stdliberrors.Is(err, migrate.ErrNilVersion) {
		c.logger.Warn("Failed to get migration version", logging.Err(err))
	}
	c.logger.Info("Database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// Rollback reverts the given number of migrations.
func (c *Connection) Rollback(steps int) error {
	if steps <= 0 {
		return errors.InvalidParam("steps must be greater than 0").WithDetailf("steps=%d", steps)
	}
	m, err := c.newMigrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil {
		if stdliberrors.Is(err, migrate.ErrNoChange) {
			return errors.New(errors.ErrCodeMigrationFailed, "no migrations to roll back")
		}
		return errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to roll back").WithDetailf("steps=%d", steps)
	}
	return nil
}

// MigrationStatus returns the applied version and dirty flag.  A database
// with no migrations applied reports version 0.
func (c *Connection) MigrationStatus() (version uint, dirty bool, err error) {
	m, err := c.newMigrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if err != nil {
		if stdliberrors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to get migration version")
	}
	return version, dirty, nil
}
