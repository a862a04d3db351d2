package store

// ExclusionKind is the matching mode of a ProductExclusion rule.
type ExclusionKind string

const (
	ExclusionSKU           ExclusionKind = "sku"
	ExclusionKeywordRegex  ExclusionKind = "keyword_regex"
	ExclusionBrand         ExclusionKind = "brand"
)

// ProductExclusion is an operator-managed suppression rule.
type ProductExclusion struct {
	ID      int64
	Kind    ExclusionKind
	Pattern string
	Store   string // "*" applies to every store
}

// ListProductExclusions returns every configured exclusion rule.
func (s *Store) ListProductExclusions() ([]ProductExclusion, error) {
	rows, err := s.sql.Query(`SELECT id, kind, pattern, store FROM product_exclusions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductExclusion
	for rows.Next() {
		var e ProductExclusion
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.Pattern, &e.Store); err != nil {
			return nil, err
		}
		e.Kind = ExclusionKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateProductExclusion inserts a new exclusion rule.
func (s *Store) CreateProductExclusion(e ProductExclusion) (int64, error) {
	if e.Store == "" {
		e.Store = "*"
	}
	res, err := s.sql.Exec(`INSERT INTO product_exclusions (kind, pattern, store) VALUES (?,?,?)`,
		string(e.Kind), e.Pattern, e.Store)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
