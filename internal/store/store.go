// Package store implements the relational persistence layer:
// Categories, Proxies, ScanJobs, and operator-managed ProductExclusion
// rows. Schema management follows a versioned, idempotent migration
// idiom: a schema_version table plus sequential "if version < N" blocks
// guarded by ensureTableColumn/tableExists helpers.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"pricewatch/internal/logger"
)

// Store wraps the relational database handle.
type Store struct {
	sql *sql.DB
}

// Open opens (and migrates) the SQLite database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{sql: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SqlDB exposes the raw handle for callers that need direct queries (e.g.
// ad-hoc operator tooling).
func (s *Store) SqlDB() *sql.DB { return s.sql }

// Close releases the database handle.
func (s *Store) Close() error { return s.sql.Close() }

func (s *Store) tableExists(name string) bool {
	var n int
	row := s.sql.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name)
	if err := row.Scan(&n); err != nil {
		return false
	}
	return n > 0
}

func (s *Store) ensureTableColumn(table, column, definition string) error {
	rows, err := s.sql.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if equalFold(name, column) {
			return nil
		}
	}
	_, err = s.sql.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition))
	return err
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (s *Store) schemaVersion() (int, error) {
	if !s.tableExists("schema_version") {
		if _, err := s.sql.Exec(`CREATE TABLE schema_version (version INTEGER NOT NULL)`); err != nil {
			return 0, err
		}
		if _, err := s.sql.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return 0, err
		}
		return 0, nil
	}
	var v int
	row := s.sql.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *Store) setSchemaVersion(v int) error {
	_, err := s.sql.Exec(`UPDATE schema_version SET version = ?`, v)
	return err
}

func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		if _, err := s.sql.Exec(`
			CREATE TABLE categories (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				store TEXT NOT NULL,
				name TEXT NOT NULL,
				url TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				priority INTEGER NOT NULL DEFAULT 5,
				base_scan_interval_minutes INTEGER NOT NULL DEFAULT 30,
				max_pages INTEGER NOT NULL DEFAULT 5,
				min_discount_percent REAL NOT NULL DEFAULT 0,
				keyword_include TEXT NOT NULL DEFAULT '',
				keyword_exclude TEXT NOT NULL DEFAULT '',
				brand_include TEXT NOT NULL DEFAULT '',
				brand_exclude TEXT NOT NULL DEFAULT '',
				min_price REAL NOT NULL DEFAULT 0,
				max_price REAL NOT NULL DEFAULT 0,
				last_scanned_at DATETIME,
				last_error TEXT NOT NULL DEFAULT '',
				last_error_at DATETIME,
				products_found INTEGER NOT NULL DEFAULT 0,
				deals_found INTEGER NOT NULL DEFAULT 0,
				UNIQUE(store, url)
			);

			CREATE TABLE proxies (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				host TEXT NOT NULL,
				port INTEGER NOT NULL DEFAULT 0,
				username TEXT NOT NULL DEFAULT '',
				password TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL DEFAULT 'datacenter',
				enabled INTEGER NOT NULL DEFAULT 1,
				success_count INTEGER NOT NULL DEFAULT 0,
				failure_count INTEGER NOT NULL DEFAULT 0,
				consecutive_403s INTEGER NOT NULL DEFAULT 0,
				last_used_at DATETIME,
				last_success_at DATETIME
			);

			CREATE TABLE scan_jobs (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL DEFAULT 'scheduled',
				status TEXT NOT NULL DEFAULT 'pending',
				started_at DATETIME,
				completed_at DATETIME,
				total_categories INTEGER NOT NULL DEFAULT 0,
				completed_categories INTEGER NOT NULL DEFAULT 0,
				total_products INTEGER NOT NULL DEFAULT 0,
				total_deals INTEGER NOT NULL DEFAULT 0,
				errors TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE product_exclusions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				kind TEXT NOT NULL,
				pattern TEXT NOT NULL,
				store TEXT NOT NULL DEFAULT '*',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`); err != nil {
			return err
		}
		logger.Info("store", "applied migration v1 (categories, proxies, scan_jobs, product_exclusions)")
		version = 1
		if err := s.setSchemaVersion(version); err != nil {
			return err
		}
	}

	if version < 2 {
		if err := s.ensureTableColumn("categories", "kids_exclude_skus", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		logger.Info("store", "applied migration v2 (categories.kids_exclude_skus)")
		version = 2
		if err := s.setSchemaVersion(version); err != nil {
			return err
		}
	}

	return nil
}
