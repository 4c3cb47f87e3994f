package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "brightsched/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	auditCount atomic.Uint64
	pruneEvery uint64
	auditKeep  int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500, auditKeep: 5000}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// FULL so an armed occurrence survives power loss.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutOccurrence(ctx context.Context, o Occurrence) error {
	payload := string(o.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO occurrences(token, fire_at, payload, wake, armed_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(token) DO UPDATE SET fire_at=excluded.fire_at, payload=excluded.payload,
		   wake=excluded.wake, armed_at=excluded.armed_at`,
		o.Token, o.FireAt.UnixMilli(), payload, o.Wake, o.ArmedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteOccurrence(ctx context.Context, token int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM occurrences WHERE token = ?`, token)
	return err
}

func (s *sqliteStore) ListOccurrences(ctx context.Context) ([]Occurrence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, fire_at, payload, wake, armed_at FROM occurrences ORDER BY fire_at, token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Occurrence
	for rows.Next() {
		var (
			o               Occurrence
			fireAt, armedAt int64
			payload         string
		)
		if err := rows.Scan(&o.Token, &fireAt, &payload, &o.Wake, &armedAt); err != nil {
			return nil, err
		}
		o.FireAt = time.UnixMilli(fireAt)
		o.ArmedAt = time.UnixMilli(armedAt)
		o.Payload = []byte(payload)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutAlarm(ctx context.Context, r AlarmRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms(id, hour, minute, brightness, auto_mode, source, updated_at) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET hour=excluded.hour, minute=excluded.minute,
		   brightness=excluded.brightness, auto_mode=excluded.auto_mode,
		   source=excluded.source, updated_at=excluded.updated_at`,
		r.ID, r.Hour, r.Minute, r.Brightness, r.AutoMode, r.Source, r.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetAlarm(ctx context.Context, id string) (AlarmRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, hour, minute, brightness, auto_mode, source, updated_at FROM alarms WHERE id = ?`, id)
	r, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AlarmRecord{}, false, nil
	}
	if err != nil {
		return AlarmRecord{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) DeleteAlarm(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListAlarms(ctx context.Context) ([]AlarmRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hour, minute, brightness, auto_mode, source, updated_at FROM alarms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlarmRecord
	for rows.Next() {
		r, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row rowScanner) (AlarmRecord, error) {
	var (
		r       AlarmRecord
		updated int64
	)
	if err := row.Scan(&r.ID, &r.Hour, &r.Minute, &r.Brightness, &r.AutoMode, &r.Source, &updated); err != nil {
		return AlarmRecord{}, err
	}
	r.UpdatedAt = time.UnixMilli(updated)
	return r, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, action, alarm_id, ok, err, took_ms) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Action, e.AlarmID, e.OK, nullStr(e.Error), e.TookMS,
	)
	if err == nil && s.auditCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneAudit(pctx); perr != nil {
			s.log.Debug("audit prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) pruneAudit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit WHERE id <= (SELECT MAX(id) FROM audit) - ?`, s.auditKeep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
