// Clinic Migrate — применяет SQL-миграции схемы.
//
// Использование:
//
//	clinic-migrate [up|down|version]
//
// Каталог миграций задаётся MIGRATIONS_DIR (default: migrations).
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/shaiso/ClinicBooking/internal/config"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	if err := run(cmd, cfg, logger); err != nil {
		logger.Error("migration failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(cmd string, cfg *config.Config, logger *slog.Logger) error {
	m, err := migrate.New("file://"+cfg.MigrationsDir, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Warn("failed to close migrator", "error", err)
		}
	}()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info("no migrations applied")
			return nil
		}
		if verr != nil {
			return verr
		}
		logger.Info("schema version", "version", v, "dirty", dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want up, down or version)", cmd)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no new migrations")
		return nil
	}
	var dirtyErr migrate.ErrDirty
	if errors.As(err, &dirtyErr) {
		return fmt.Errorf("dirty database version %d", dirtyErr.Version)
	}
	if err != nil {
		return err
	}

	logger.Info("migrations applied", "command", cmd)
	return nil
}
