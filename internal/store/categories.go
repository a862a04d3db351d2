package store

import (
	"database/sql"
	"strings"
	"time"
)

// Category mirrors a scanned storefront category.
type Category struct {
	ID                       int64
	Store                    string
	Name                     string
	URL                      string
	Enabled                  bool
	Priority                 int
	BaseScanIntervalMinutes  int
	MaxPages                 int
	MinDiscountPercent       float64
	KeywordInclude           []string
	KeywordExclude           []string
	BrandInclude             []string
	BrandExclude             []string
	MinPrice                 float64
	MaxPrice                 float64
	LastScannedAt            time.Time
	LastError                string
	LastErrorAt              time.Time
	ProductsFound            int64
	DealsFound               int64
	KidsExcludeSKUs          []string
}

func joinList(xs []string) string { return strings.Join(xs, "\x1f") }

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x1f")
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// ListEnabledCategories returns every enabled category.
func (s *Store) ListEnabledCategories() ([]Category, error) {
	rows, err := s.sql.Query(`SELECT id, store, name, url, enabled, priority, base_scan_interval_minutes,
		max_pages, min_discount_percent, keyword_include, keyword_exclude, brand_include, brand_exclude,
		min_price, max_price, last_scanned_at, last_error, last_error_at, products_found, deals_found,
		kids_exclude_skus
		FROM categories WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCategories(rows)
}

func scanCategories(rows *sql.Rows) ([]Category, error) {
	var out []Category
	for rows.Next() {
		var c Category
		var enabled int
		var kwInc, kwExc, brInc, brExc, kidsSkus string
		var lastScanned, lastErrorAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Store, &c.Name, &c.URL, &enabled, &c.Priority, &c.BaseScanIntervalMinutes,
			&c.MaxPages, &c.MinDiscountPercent, &kwInc, &kwExc, &brInc, &brExc,
			&c.MinPrice, &c.MaxPrice, &lastScanned, &c.LastError, &lastErrorAt, &c.ProductsFound, &c.DealsFound,
			&kidsSkus); err != nil {
			return nil, err
		}
		c.Enabled = enabled != 0
		c.KeywordInclude = splitList(kwInc)
		c.KeywordExclude = splitList(kwExc)
		c.BrandInclude = splitList(brInc)
		c.BrandExclude = splitList(brExc)
		c.KidsExcludeSKUs = splitList(kidsSkus)
		if lastScanned.Valid {
			c.LastScannedAt = lastScanned.Time
		}
		if lastErrorAt.Valid {
			c.LastErrorAt = lastErrorAt.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCategory inserts a new category, clamping priority to [1,10].
func (s *Store) CreateCategory(c Category) (int64, error) {
	res, err := s.sql.Exec(`INSERT INTO categories
		(store, name, url, enabled, priority, base_scan_interval_minutes, max_pages, min_discount_percent,
		 keyword_include, keyword_exclude, brand_include, brand_exclude, min_price, max_price, kids_exclude_skus)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Store, c.Name, c.URL, boolToInt(c.Enabled), clampPriority(c.Priority), max1(c.BaseScanIntervalMinutes),
		c.MaxPages, c.MinDiscountPercent, joinList(c.KeywordInclude), joinList(c.KeywordExclude),
		joinList(c.BrandInclude), joinList(c.BrandExclude), c.MinPrice, c.MaxPrice, joinList(c.KidsExcludeSKUs))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// ScanUpdate is the batch of fields a completed scan updates per category.
type ScanUpdate struct {
	CategoryID     int64
	LastScannedAt  time.Time
	ProductsFound  int64
	DealsFound     int64
	LastError      string
	LastErrorAt    time.Time
	Disable        bool
}

// ApplyScanUpdates writes a batch of post-scan updates in one transaction,
// applied in db_batch_update_size-sized groups to keep transactions small.
func (s *Store) ApplyScanUpdates(updates []ScanUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`UPDATE categories SET last_scanned_at = ?, products_found = products_found + ?,
		deals_found = deals_found + ?, last_error = ?, last_error_at = ?, enabled = enabled AND NOT ?
		WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		var lastErrorAt interface{}
		if !u.LastErrorAt.IsZero() {
			lastErrorAt = u.LastErrorAt
		}
		if _, err := stmt.Exec(u.LastScannedAt, u.ProductsFound, u.DealsFound, u.LastError, lastErrorAt,
			boolToInt(u.Disable), u.CategoryID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
