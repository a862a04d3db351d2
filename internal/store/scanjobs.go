package store

import (
	"database/sql"
	"strings"
	"time"
)

// ScanJobKind distinguishes a scheduler-triggered run from an operator one.
type ScanJobKind string

const (
	ScanJobScheduled ScanJobKind = "scheduled"
	ScanJobManual    ScanJobKind = "manual"
)

// ScanJobStatus is the lifecycle state of a ScanJob.
type ScanJobStatus string

const (
	ScanJobPending   ScanJobStatus = "pending"
	ScanJobRunning   ScanJobStatus = "running"
	ScanJobCompleted ScanJobStatus = "completed"
	ScanJobFailed    ScanJobStatus = "failed"
)

// ScanJob tracks one run of the scheduler against a set of categories.
type ScanJob struct {
	ID                  string
	Kind                ScanJobKind
	Status              ScanJobStatus
	StartedAt           time.Time
	CompletedAt         time.Time
	TotalCategories     int
	CompletedCategories int
	TotalProducts       int64
	TotalDeals          int64
	Errors              []string
}

// CreateScanJob inserts a new job row in ScanJobPending.
func (s *Store) CreateScanJob(id string, kind ScanJobKind, totalCategories int) error {
	_, err := s.sql.Exec(`INSERT INTO scan_jobs (id, kind, status, total_categories) VALUES (?,?,?,?)`,
		id, string(kind), string(ScanJobPending), totalCategories)
	return err
}

// TransitionScanJob updates a job's status, stamping started_at/completed_at
// as appropriate.
func (s *Store) TransitionScanJob(id string, status ScanJobStatus) error {
	switch status {
	case ScanJobRunning:
		_, err := s.sql.Exec(`UPDATE scan_jobs SET status = ?, started_at = ? WHERE id = ?`, string(status), time.Now(), id)
		return err
	case ScanJobCompleted, ScanJobFailed:
		_, err := s.sql.Exec(`UPDATE scan_jobs SET status = ?, completed_at = ? WHERE id = ?`, string(status), time.Now(), id)
		return err
	default:
		_, err := s.sql.Exec(`UPDATE scan_jobs SET status = ? WHERE id = ?`, string(status), id)
		return err
	}
}

// RecordScanJobProgress increments a job's completed-category/product/deal
// counters and appends an error, if any.
func (s *Store) RecordScanJobProgress(id string, products, deals int64, errMsg string) error {
	if errMsg != "" {
		var existing string
		row := s.sql.QueryRow(`SELECT errors FROM scan_jobs WHERE id = ?`, id)
		if err := row.Scan(&existing); err != nil {
			return err
		}
		if existing != "" {
			errMsg = existing + "\x1f" + errMsg
		}
		_, err := s.sql.Exec(`UPDATE scan_jobs SET completed_categories = completed_categories + 1,
			total_products = total_products + ?, total_deals = total_deals + ?, errors = ? WHERE id = ?`,
			products, deals, errMsg, id)
		return err
	}
	_, err := s.sql.Exec(`UPDATE scan_jobs SET completed_categories = completed_categories + 1,
		total_products = total_products + ?, total_deals = total_deals + ? WHERE id = ?`, products, deals, id)
	return err
}

// GetScanJob fetches one job by id.
func (s *Store) GetScanJob(id string) (ScanJob, error) {
	var j ScanJob
	var kind, status, errs string
	var started, completed sql.NullTime
	row := s.sql.QueryRow(`SELECT id, kind, status, started_at, completed_at, total_categories,
		completed_categories, total_products, total_deals, errors FROM scan_jobs WHERE id = ?`, id)
	if err := row.Scan(&j.ID, &kind, &status, &started, &completed, &j.TotalCategories,
		&j.CompletedCategories, &j.TotalProducts, &j.TotalDeals, &errs); err != nil {
		return ScanJob{}, err
	}
	j.Kind = ScanJobKind(kind)
	j.Status = ScanJobStatus(status)
	if started.Valid {
		j.StartedAt = started.Time
	}
	if completed.Valid {
		j.CompletedAt = completed.Time
	}
	if errs != "" {
		j.Errors = strings.Split(errs, "\x1f")
	}
	return j, nil
}
