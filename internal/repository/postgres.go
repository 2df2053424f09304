// Package repository provides PostgreSQL persistence for archived evaluation reports.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/searcheval/internal/evaluation"
	"github.com/nadmax/searcheval/internal/report"
)

var (
	ErrAlreadyArchived = errors.New("report already archived")
	ErrNotArchived     = errors.New("report not archived")
)

const schema = `
	CREATE TABLE IF NOT EXISTS report_archive (
		report_id        BIGINT PRIMARY KEY,
		report_name      TEXT NOT NULL,
		created_at       TIMESTAMPTZ,
		archived_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		summary          JSONB NOT NULL,
		detailed_results TEXT NOT NULL DEFAULT ''
	)
`

// ReportArchive stores immutable copies of evaluation reports.
type ReportArchive interface {
	Archive(ctx context.Context, r *report.Report) (*ArchivedReport, error)
	GetReport(ctx context.Context, reportID int64) (*report.Report, error)
	ListArchived(ctx context.Context, limit int) ([]ArchivedReport, error)
	DeleteReport(ctx context.Context, reportID int64) error
	Close() error
}

// ArchivedReport is the listing view of an archived report, without its details.
type ArchivedReport struct {
	ReportID   int64              `json:"report_id"`
	ReportName string             `json:"report_name"`
	CreatedAt  *time.Time         `json:"created_at,omitempty"`
	ArchivedAt time.Time          `json:"archived_at"`
	Summary    evaluation.Summary `json:"summary"`
}

type PostgresReportRepository struct {
	db *sql.DB
}

func NewPostgresReportRepository(connectionString string) (*PostgresReportRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresReportRepository{db: db}, nil
}

// EnsureSchema creates the archive table when it does not exist yet.
func (r *PostgresReportRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create report_archive table: %w", err)
	}
	return nil
}

// Archive inserts a copy of rep. Archived reports are never updated; archiving the same
// report twice returns ErrAlreadyArchived.
func (r *PostgresReportRepository) Archive(ctx context.Context, rep *report.Report) (*ArchivedReport, error) {
	summary, err := json.Marshal(rep.Summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}

	var createdAt any
	if !rep.CreatedAt.IsZero() {
		createdAt = rep.CreatedAt.Time
	}

	query := `
		INSERT INTO report_archive (
			report_id, report_name, created_at, summary, detailed_results
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (report_id) DO NOTHING
		RETURNING archived_at
	`

	var archivedAt time.Time
	err = r.db.QueryRowContext(
		ctx,
		query,
		rep.ID,
		rep.ReportName,
		createdAt,
		summary,
		string(rep.DetailedResults),
	).Scan(&archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlreadyArchived
	}
	if err != nil {
		return nil, fmt.Errorf("failed to archive report %d: %w", rep.ID, err)
	}

	archived := &ArchivedReport{
		ReportID:   rep.ID,
		ReportName: rep.ReportName,
		ArchivedAt: archivedAt,
		Summary:    rep.Summary,
	}
	if !rep.CreatedAt.IsZero() {
		t := rep.CreatedAt.Time
		archived.CreatedAt = &t
	}
	return archived, nil
}

func (r *PostgresReportRepository) GetReport(ctx context.Context, reportID int64) (*report.Report, error) {
	query := `
		SELECT report_id, report_name, created_at, summary, detailed_results
		FROM report_archive
		WHERE report_id = $1
	`

	var (
		rep       report.Report
		createdAt sql.NullTime
		summary   []byte
		details   string
	)
	err := r.db.QueryRowContext(ctx, query, reportID).Scan(
		&rep.ID,
		&rep.ReportName,
		&createdAt,
		&summary,
		&details,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(summary, &rep.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary of report %d: %w", reportID, err)
	}
	if createdAt.Valid {
		rep.CreatedAt = report.NewTimestamp(createdAt.Time)
	}
	rep.DetailedResults = report.RawDetails(details)

	return &rep, nil
}

// ListArchived returns archived reports, newest archive first.
func (r *PostgresReportRepository) ListArchived(ctx context.Context, limit int) ([]ArchivedReport, error) {
	query := `
		SELECT report_id, report_name, created_at, archived_at, summary
		FROM report_archive
		ORDER BY archived_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	archived := make([]ArchivedReport, 0)
	for rows.Next() {
		var (
			a         ArchivedReport
			createdAt sql.NullTime
			summary   []byte
		)
		if err := rows.Scan(
			&a.ReportID,
			&a.ReportName,
			&createdAt,
			&a.ArchivedAt,
			&summary,
		); err != nil {
			return nil, err
		}

		if createdAt.Valid {
			t := createdAt.Time
			a.CreatedAt = &t
		}
		if err := json.Unmarshal(summary, &a.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary of report %d: %w", a.ReportID, err)
		}

		archived = append(archived, a)
	}

	return archived, rows.Err()
}

func (r *PostgresReportRepository) DeleteReport(ctx context.Context, reportID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM report_archive WHERE report_id = $1`, reportID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotArchived
	}
	return nil
}

func (r *PostgresReportRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresReportRepository) DB() *sql.DB {
	return r.db
}
