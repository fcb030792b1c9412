package persist

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ncruces/go-strftime"
	_ "modernc.org/sqlite"

	"loxvm/internal/value"
)

// SQLite persists one session's globals to a local file, one row per
// (session, name). It uses the same pure-Go, CGo-free driver the
// teacher registers for its interactive sqlite_* natives, here backing
// the VM's own durability story instead of a scripted one.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: ping sqlite %q: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS globals (
	session    TEXT NOT NULL,
	name       TEXT NOT NULL,
	value_type TEXT NOT NULL,
	value_bool INTEGER NOT NULL DEFAULT 0,
	value_num  REAL NOT NULL DEFAULT 0,
	value_str  TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (session, name)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(session string, intern func(string) *value.ObjString) ([]Global, error) {
	rows, err := s.db.Query(
		`SELECT name, value_type, value_bool, value_num, value_str
		   FROM globals WHERE session = ?`, session)
	if err != nil {
		return nil, fmt.Errorf("persist: load session %q: %w", session, err)
	}
	defer rows.Close()

	var out []Global
	for rows.Next() {
		var name string
		var enc encodedValue
		var boolInt int64
		if err := rows.Scan(&name, &enc.Type, &boolInt, &enc.Num, &enc.Str); err != nil {
			return nil, fmt.Errorf("persist: scan row: %w", err)
		}
		enc.Bool = boolInt != 0

		v, err := decodeValue(enc, intern)
		if err != nil {
			return nil, err
		}
		out = append(out, Global{Name: name, Value: v})
	}
	return out, rows.Err()
}

func (s *SQLite) Save(session string, globals []Global) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persist: begin save: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM globals WHERE session = ?`, session); err != nil {
		tx.Rollback()
		return fmt.Errorf("persist: clear session %q: %w", session, err)
	}

	updatedAt := strftime.Format("%Y-%m-%d %H:%M:%S", time.Now())

	for _, g := range globals {
		enc := encodeValue(g.Value)
		boolInt := int64(0)
		if enc.Bool {
			boolInt = 1
		}
		_, err := tx.Exec(
			`INSERT INTO globals (session, name, value_type, value_bool, value_num, value_str, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session, g.Name, enc.Type, boolInt, enc.Num, enc.Str, updatedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("persist: save global %q: %w", g.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit save: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
