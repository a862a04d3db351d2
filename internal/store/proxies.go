package store

import (
	"database/sql"

	"pricewatch/internal/proxypool"
)

// ListProxies implements proxypool.Loader against the relational store.
func (s *Store) ListProxies() ([]proxypool.Proxy, error) {
	rows, err := s.sql.Query(`SELECT id, host, port, username, password, type, enabled,
		success_count, failure_count, consecutive_403s, last_used_at, last_success_at FROM proxies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []proxypool.Proxy
	for rows.Next() {
		var p proxypool.Proxy
		var enabled int
		var typ string
		var lastUsed, lastSuccess sql.NullTime
		if err := rows.Scan(&p.ID, &p.Host, &p.Port, &p.Username, &p.Password, &typ, &enabled,
			&p.SuccessCount, &p.FailureCount, &p.Consecutive403s, &lastUsed, &lastSuccess); err != nil {
			return nil, err
		}
		p.Type = proxypool.Type(typ)
		p.Enabled = enabled != 0
		if lastUsed.Valid {
			p.LastUsedAt = lastUsed.Time
		}
		if lastSuccess.Valid {
			p.LastSuccessAt = lastSuccess.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProxy inserts a new proxy row.
func (s *Store) CreateProxy(p proxypool.Proxy) (int64, error) {
	res, err := s.sql.Exec(`INSERT INTO proxies (host, port, username, password, type, enabled)
		VALUES (?,?,?,?,?,?)`, p.Host, p.Port, p.Username, p.Password, string(p.Type), boolToInt(p.Enabled))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PersistProxyCounters writes back the success/failure counters, the
// consecutive-403 strike count, and the last-used/last-success stamps from
// an in-memory proxypool.Pool snapshot. The cooldown deadline stays
// in memory only, and a proxy is never auto-disabled in persistence.
func (s *Store) PersistProxyCounters(snapshot []proxypool.Proxy) error {
	tx, err := s.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`UPDATE proxies SET success_count = ?, failure_count = ?, consecutive_403s = ?,
		last_used_at = ?, last_success_at = ? WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range snapshot {
		var lastUsed, lastSuccess interface{}
		if !p.LastUsedAt.IsZero() {
			lastUsed = p.LastUsedAt
		}
		if !p.LastSuccessAt.IsZero() {
			lastSuccess = p.LastSuccessAt
		}
		if _, err := stmt.Exec(p.SuccessCount, p.FailureCount, p.Consecutive403s, lastUsed, lastSuccess, p.ID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
