package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"tilewire/internal/tile"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite store: %w", err)
	}

	s := &SQLiteStore{
		db:  db,
		log: log,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}

	log.Info("sqlite store initialized", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{s.log.Sugar()})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(s.db, "migrations")
}

func shadowInt(shadow bool) int {
	if shadow {
		return 1
	}
	return 0
}

func (s *SQLiteStore) Get(key tile.Key) ([]byte, bool, error) {
	query := `SELECT data
	FROM tiles
	WHERE drawable_id = ? AND tile_index = ? AND shadow = ?`

	var data []byte
	err := s.db.QueryRow(query, key.DrawableID, key.Index, shadowInt(key.Shadow)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		s.log.Error("sqlite store get failed", zap.Stringer("tile", key), zap.Error(err))
		return nil, false, err
	}

	return data, true, nil
}

func (s *SQLiteStore) Set(key tile.Key, value []byte) error {
	query := `INSERT INTO tiles (drawable_id, tile_index, shadow, data)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(drawable_id, tile_index, shadow)
	DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`

	if _, err := s.db.Exec(query, key.DrawableID, key.Index, shadowInt(key.Shadow), value); err != nil {
		s.log.Error("sqlite store set failed", zap.Stringer("tile", key), zap.Error(err))
		return err
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM tiles`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// gooseLogger routes migration output through zap.
type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Fatalf(format string, v ...any) { l.s.Fatalf(format, v...) }
func (l gooseLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }
