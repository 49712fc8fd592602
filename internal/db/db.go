package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/models"
)

// ConnectDB opens the configured database. Drivers: pgdriver and pq for
// postgres, sqlite for a local file.
func ConnectDB(cfg *config.DatabaseConfig) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case "pgdriver":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN), pgdriver.WithPassword(cfg.Password)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case "pq":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case "sqlite":
		if err := helper.CreateFolder(filepath.Dir(cfg.DSN)); err != nil {
			return nil, err
		}
		sqldb, err := sql.Open("sqlite", cfg.DSN+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// sqlite serializes writers anyway
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

// InitDB creates the tables if they do not exist. Child tables reference
// documents with ON DELETE CASCADE.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*models.Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	children := []any{
		(*models.Chunk)(nil),
		(*models.ImageRecord)(nil),
		(*models.AudioSegment)(nil),
	}
	for _, model := range children {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			ForeignKey(`("document_id") REFERENCES "documents" ("id") ON DELETE CASCADE`).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model any
		name  string
	}{
		{(*models.Chunk)(nil), "idx_chunks_document_id"},
		{(*models.ImageRecord)(nil), "idx_image_embeddings_document_id"},
		{(*models.AudioSegment)(nil), "idx_audio_segments_document_id"},
	}
	for _, ix := range indexes {
		if _, err := db.NewCreateIndex().Model(ix.model).Index(ix.name).Column("document_id").IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", ix.name, err)
		}
	}
	log.Debug().Msg("Database schema ready")
	return nil
}

// DropTables removes every table, children first.
func DropTables(ctx context.Context, db *bun.DB) error {
	all := []any{
		(*models.Chunk)(nil),
		(*models.ImageRecord)(nil),
		(*models.AudioSegment)(nil),
		(*models.Document)(nil),
	}
	for _, model := range all {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// OpenStore connects, creates the schema and returns the record store.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig) (*BunStore, error) {
	db, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewBunStore(db), nil
}
