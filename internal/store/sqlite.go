package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	appLog "appdate/internal/log"
	"appdate/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// SQLite is a Store backed by a single SQLite database file.
//
// The database is configured with:
//   - WAL mode so the file can be read by other processes during writes
//   - a 5-second busy timeout for lock contention
//   - a single connection, since SQLite has a single writer anyway
type SQLite struct {
	db   *sql.DB
	path string
	hub  *hub
	opts options

	// wmu serialises write transactions with the snapshot that follows
	// them, so subscribers never see an older snapshot after a newer one.
	wmu         sync.Mutex
	closed      bool
	dataVersion int64

	watcher *fileWatcher
}

var _ Store = (*SQLite)(nil)

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &SQLite{
		db:   db,
		path: path,
		hub:  newHub(),
		opts: applyOptions(opts),
	}
	s.dataVersion, _ = s.readDataVersion(context.Background())

	if s.opts.watch {
		w, err := newFileWatcher(path, s.refresh)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to watch database: %w", err)
		}
		s.watcher = w
	}

	appLog.Info("sqlite store opened", "path", path, "watch", s.opts.watch)
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLite) Subscribe(c model.Collection, fn Listener) (func(), error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	current, err := s.list(context.Background(), c)
	if err != nil {
		return nil, err
	}
	return s.hub.subscribe(c, fn, current)
}

func (s *SQLite) List(ctx context.Context, c model.Collection) ([]model.Event, error) {
	return s.list(ctx, c)
}

func (s *SQLite) Get(ctx context.Context, c model.Collection, id string) (model.Event, error) {
	ev, err := s.get(ctx, s.db, c, id)
	if err != nil {
		return model.Event{}, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	return ev, nil
}

func (s *SQLite) Create(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error) {
	var created model.Event
	err := s.write(ctx, c, func(tx *sql.Tx) error {
		var err error
		created, err = s.insert(ctx, tx, c, ev)
		return err
	})
	return created, err
}

func (s *SQLite) Update(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		return model.Event{}, ErrNoID
	}
	err := s.write(ctx, c, func(tx *sql.Tx) error {
		old, err := s.get(ctx, tx, c, ev.ID)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", c, ev.ID, err)
		}
		ev = stamp(ev, old.CreatedAt, s.opts.now())
		return s.put(ctx, tx, c, ev)
	})
	if err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

func (s *SQLite) Upsert(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		return model.Event{}, ErrNoID
	}
	err := s.write(ctx, c, func(tx *sql.Tx) error {
		created := ev.CreatedAt
		old, err := s.get(ctx, tx, c, ev.ID)
		switch {
		case err == nil:
			created = old.CreatedAt
		case !errors.Is(err, ErrNotFound):
			return err
		}
		ev = stamp(ev, created, s.opts.now())
		return s.put(ctx, tx, c, ev)
	})
	if err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

func (s *SQLite) Delete(ctx context.Context, c model.Collection, id string) error {
	return s.DeleteBatch(ctx, c, []string{id})
}

func (s *SQLite) CreateBatch(ctx context.Context, c model.Collection, evs []model.Event) ([]model.Event, error) {
	if len(evs) > MaxBatchOps {
		return nil, fmt.Errorf("create %d events: %w", len(evs), ErrBatchTooLarge)
	}
	out := make([]model.Event, 0, len(evs))
	err := s.write(ctx, c, func(tx *sql.Tx) error {
		for _, ev := range evs {
			created, err := s.insert(ctx, tx, c, ev)
			if err != nil {
				return err
			}
			out = append(out, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) DeleteBatch(ctx context.Context, c model.Collection, ids []string) error {
	if len(ids) > MaxBatchOps {
		return fmt.Errorf("delete %d events: %w", len(ids), ErrBatchTooLarge)
	}
	return s.write(ctx, c, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM events WHERE collection = ? AND id = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete: %w", err)
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, string(c), id); err != nil {
				return fmt.Errorf("delete %s/%s: %w", c, id, err)
			}
		}
		return nil
	})
}

func (s *SQLite) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.hub.close()
	return s.db.Close()
}

// write runs fn in a transaction and publishes the collection afterwards.
func (s *SQLite) write(ctx context.Context, c model.Collection, fn func(tx *sql.Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	// The write is durable at this point; a failed re-read only delays the
	// push until the next change.
	events, err := s.list(context.WithoutCancel(ctx), c)
	if err != nil {
		appLog.Error("sqlite: reload after write failed", err, "collection", c)
		return nil
	}
	s.hub.publish(c, events)
	return nil
}

// refresh republishes both collections when another connection changed
// the file. It is driven by the file watcher.
func (s *SQLite) refresh() {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return
	}

	ctx := context.Background()
	version, err := s.readDataVersion(ctx)
	if err != nil {
		appLog.Error("sqlite: read data_version failed", err)
		return
	}
	if version == s.dataVersion {
		return
	}
	s.dataVersion = version

	for _, c := range model.Collections {
		events, err := s.list(ctx, c)
		if err != nil {
			appLog.Error("sqlite: reload after external change failed", err, "collection", c)
			continue
		}
		s.hub.publish(c, events)
	}
	appLog.Debug("sqlite: external change published", "path", s.path)
}

// readDataVersion returns a counter that only moves when a different
// connection commits to the database.
func (s *SQLite) readDataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) list(ctx context.Context, c model.Collection) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM events WHERE collection = ? ORDER BY rowid`, string(c))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		ev, err := decodeEvent(id, data)
		if err != nil {
			// One corrupt record must not hide the rest of the collection.
			appLog.Error("sqlite: skipping unreadable record", err, "collection", c, "id", id)
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	return events, nil
}

func (s *SQLite) get(ctx context.Context, q queryer, c model.Collection, id string) (model.Event, error) {
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM events WHERE collection = ? AND id = ?`, string(c), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, err
	}
	return decodeEvent(id, data)
}

func (s *SQLite) insert(ctx context.Context, tx *sql.Tx, c model.Collection, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = s.opts.newID()
	} else if _, err := s.get(ctx, tx, c, ev.ID); err == nil {
		return model.Event{}, fmt.Errorf("create %s/%s: %w", c, ev.ID, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return model.Event{}, err
	}
	ev = stamp(ev, ev.CreatedAt, s.opts.now())
	if err := s.put(ctx, tx, c, ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// put writes ev, keeping the rowid (and so the position) of an existing
// record.
func (s *SQLite) put(ctx context.Context, tx *sql.Tx, c model.Collection, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", c, ev.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		string(c), ev.ID, string(data),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		ev.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", c, ev.ID, err)
	}
	return nil
}

func decodeEvent(id, data string) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode %s: %w", id, err)
	}
	ev.ID = id
	return ev, nil
}
