// Package sqlite keeps a local fleet in a SQLite database.
//
// It stands in for a cloud inventory in dry runs, demos and tests: instances
// and their tags live in two tables, and start/stop requests flip the stored
// state immediately.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"autostartstop/internal/inventory"
	"autostartstop/internal/reconcile"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
	Keys        schedule.TagKeys
}

type Store struct {
	db   *sql.DB
	keys schedule.TagKeys
	log  logx.Logger
}

var _ inventory.Provider = (*Store)(nil)

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	keys := cfg.Keys
	if keys.Start == "" {
		keys.Start = schedule.DefaultStartTag
	}
	if keys.Stop == "" {
		keys.Stop = schedule.DefaultStopTag
	}

	st := &Store{db: db, keys: keys, log: log.With(logx.String("inventory", "sqlite"))}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts or replaces an instance and its full tag set.
func (s *Store) Put(ctx context.Context, in inventory.Instance) error {
	if strings.TrimSpace(in.ID) == "" {
		return errors.New("instance id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO instances(id, state, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
		in.ID, string(in.State), now,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM instance_tags WHERE instance_id = ?`, in.ID); err != nil {
		return err
	}
	for k, v := range in.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO instance_tags(instance_id, key, value) VALUES(?,?,?)`, in.ID, k, v,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get returns one instance regardless of its tags.
func (s *Store) Get(ctx context.Context, id string) (inventory.Instance, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM instances WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Instance{}, inventory.ErrNotFound
	}
	if err != nil {
		return inventory.Instance{}, err
	}
	tags, err := s.tags(ctx, id)
	if err != nil {
		return inventory.Instance{}, err
	}
	return inventory.Instance{ID: id, Tags: tags, State: reconcile.ParsePowerState(state)}, nil
}

func (s *Store) ListManagedInstances(ctx context.Context) ([]inventory.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.state FROM instances i
		 WHERE EXISTS (SELECT 1 FROM instance_tags t WHERE t.instance_id = i.id AND t.key = ?)
		   AND EXISTS (SELECT 1 FROM instance_tags t WHERE t.instance_id = i.id AND t.key = ?)
		 ORDER BY i.id`,
		s.keys.Start, s.keys.Stop,
	)
	if err != nil {
		return nil, err
	}
	var out []inventory.Instance
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, inventory.Instance{ID: id, State: reconcile.ParsePowerState(state)})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Tags are loaded after the cursor is closed: the pool holds a single connection.
	for i := range out {
		tags, err := s.tags(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tags = tags
	}
	return out, nil
}

func (s *Store) tags(ctx context.Context, id string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM instance_tags WHERE instance_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tags := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return tags, rows.Err()
}

func (s *Store) RequestStart(ctx context.Context, id string) error {
	return s.transition(ctx, id, reconcile.StateRunning)
}

func (s *Store) RequestStop(ctx context.Context, id string) error {
	return s.transition(ctx, id, reconcile.StateStopped)
}

func (s *Store) transition(ctx context.Context, id string, to reconcile.PowerState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET state = ?, updated_at = ? WHERE id = ?`,
		string(to), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set %s %s: %w", id, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: %s: %w", id, inventory.ErrNotFound)
	}
	s.log.Debug("state changed", logx.String("instance", id), logx.String("state", string(to)))
	return nil
}
