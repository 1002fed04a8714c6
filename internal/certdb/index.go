package certdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// indexPageSize bounds how many fingerprints one Fingerprints query reads.
const indexPageSize = 1000

// stateIndex is the SQLite table of certificate states. Certificate bytes
// live in the file tree; the index only records what is known about them.
type stateIndex struct {
	db *sqlx.DB
}

type stateRow struct {
	Fingerprint string    `db:"fingerprint"`
	State       State     `db:"state"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func openIndex(path string, readOnly bool) (*stateIndex, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)"
	if readOnly {
		dsn += "&mode=ro"
	} else {
		dsn += "&_pragma=journal_mode(wal)&_pragma=synchronous(normal)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	// One connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	idx := &stateIndex{db: db}
	if !readOnly {
		if err := idx.initSchema(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initializing index schema: %w", err)
		}
	}
	return idx, nil
}

func (idx *stateIndex) initSchema() error {
	_, err := idx.db.Exec(`
		CREATE TABLE IF NOT EXISTS certificates (
			fingerprint text PRIMARY KEY,
			state       integer NOT NULL,
			created_at  timestamp NOT NULL,
			updated_at  timestamp NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating certificates table: %w", err)
	}
	_, err = idx.db.Exec(`CREATE INDEX IF NOT EXISTS idx_certificates_state ON certificates (state);`)
	if err != nil {
		return fmt.Errorf("creating state index on certificates table: %w", err)
	}
	return nil
}

func (idx *stateIndex) Close() error {
	return idx.db.Close()
}

// upsert records state for fp, replacing an existing row only when state
// supersedes it. Reports whether a row was written.
func (idx *stateIndex) upsert(fp string, state State) (bool, error) {
	now := time.Now().UTC()
	res, err := idx.db.Exec(`
		INSERT INTO certificates (fingerprint, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE
			SET state = excluded.state, updated_at = excluded.updated_at
			WHERE excluded.state > certificates.state
	`, fp, state, now, now)
	if err != nil {
		return false, fmt.Errorf("updating state of %s: %w", fp, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating state of %s: %w", fp, err)
	}
	return n > 0, nil
}

// state returns the recorded state and whether a row exists.
func (idx *stateIndex) state(fp string) (State, bool, error) {
	var row stateRow
	err := idx.db.Get(&row, "SELECT * FROM certificates WHERE fingerprint = ?", fp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StateUnknown, false, nil
		}
		return StateUnknown, false, fmt.Errorf("reading state of %s: %w", fp, err)
	}
	return row.State, true, nil
}

func (idx *stateIndex) remove(fp string) error {
	if _, err := idx.db.Exec("DELETE FROM certificates WHERE fingerprint = ?", fp); err != nil {
		return fmt.Errorf("removing %s from index: %w", fp, err)
	}
	return nil
}

func (idx *stateIndex) counts() (map[State]int, error) {
	var rows []struct {
		State State `db:"state"`
		N     int   `db:"n"`
	}
	if err := idx.db.Select(&rows, "SELECT state, COUNT(*) AS n FROM certificates GROUP BY state"); err != nil {
		return nil, fmt.Errorf("counting certificates: %w", err)
	}
	counts := make(map[State]int, len(rows))
	for _, r := range rows {
		counts[r.State] = r.N
	}
	return counts, nil
}

// walk calls fn for every indexed fingerprint in ascending order. Rows are
// read a page at a time so fn may itself query the index.
func (idx *stateIndex) walk(ctx context.Context, fn func(fp string) error) error {
	after := ""
	for {
		var page []string
		err := idx.db.SelectContext(ctx, &page,
			"SELECT fingerprint FROM certificates WHERE fingerprint > ? ORDER BY fingerprint LIMIT ?",
			after, indexPageSize)
		if err != nil {
			return fmt.Errorf("listing fingerprints: %w", err)
		}
		for _, fp := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(fp); err != nil {
				return err
			}
		}
		if len(page) < indexPageSize {
			return nil
		}
		after = page[len(page)-1]
	}
}
