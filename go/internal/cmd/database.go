package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/config"
	"github.com/socrefy/matchdesk/go/internal/journal"
)

// setupJournal connects the action journal when enabled. Any failure falls
// back to the no-op recorder; the desk keeps working without an audit log.
func setupJournal(ctx context.Context, cfg *config.Config) (journal.Recorder, *sql.DB) {
	if !cfg.Database.Enabled {
		return journal.Nop{}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := cfg.Database.Open(dbCtx)
	if err != nil {
		log.Error().Err(err).Msg("journal database unavailable, continuing without it")
		return journal.Nop{}, nil
	}

	repo := journal.NewRepository(db, clockwork.NewRealClock())
	if err := repo.EnsureSchema(dbCtx); err != nil {
		log.Error().Err(err).Msg("failed to prepare journal schema, continuing without it")
		_ = db.Close()
		return journal.Nop{}, nil
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("connected to journal database")
	return repo, db
}
