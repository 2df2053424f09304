package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nadmax/searcheval/internal/report"
)

// MockReportRepository is an in-memory ReportArchive for tests.
type MockReportRepository struct {
	mu           sync.Mutex
	ArchiveCalls []int64
	GetCalls     []int64
	DeleteCalls  []int64
	Reports      map[int64]*report.Report
	ArchivedAt   map[int64]time.Time
	ArchiveError error
	GetError     error
	ListError    error
	DeleteError  error
	Now          func() time.Time
}

func NewMockReportRepository() *MockReportRepository {
	return &MockReportRepository{
		Reports:    make(map[int64]*report.Report),
		ArchivedAt: make(map[int64]time.Time),
		Now:        time.Now,
	}
}

func (m *MockReportRepository) Archive(ctx context.Context, r *report.Report) (*ArchivedReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ArchiveCalls = append(m.ArchiveCalls, r.ID)

	if m.ArchiveError != nil {
		return nil, m.ArchiveError
	}
	if _, exists := m.Reports[r.ID]; exists {
		return nil, ErrAlreadyArchived
	}

	reportCopy := *r
	m.Reports[r.ID] = &reportCopy
	m.ArchivedAt[r.ID] = m.Now()

	return m.archivedLocked(r.ID), nil
}

func (m *MockReportRepository) GetReport(ctx context.Context, reportID int64) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, reportID)

	if m.GetError != nil {
		return nil, m.GetError
	}

	r, exists := m.Reports[reportID]
	if !exists {
		return nil, ErrNotArchived
	}

	reportCopy := *r
	return &reportCopy, nil
}

func (m *MockReportRepository) ListArchived(ctx context.Context, limit int) ([]ArchivedReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListError != nil {
		return nil, m.ListError
	}

	archived := make([]ArchivedReport, 0, len(m.Reports))
	for id := range m.Reports {
		archived = append(archived, *m.archivedLocked(id))
	}
	sort.Slice(archived, func(i, j int) bool {
		return archived[i].ArchivedAt.After(archived[j].ArchivedAt)
	})

	if limit > 0 && len(archived) > limit {
		archived = archived[:limit]
	}
	return archived, nil
}

func (m *MockReportRepository) DeleteReport(ctx context.Context, reportID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, reportID)

	if m.DeleteError != nil {
		return m.DeleteError
	}
	if _, exists := m.Reports[reportID]; !exists {
		return ErrNotArchived
	}

	delete(m.Reports, reportID)
	delete(m.ArchivedAt, reportID)
	return nil
}

func (m *MockReportRepository) Close() error {
	return nil
}

func (m *MockReportRepository) WasArchived(reportID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.Reports[reportID]
	return exists
}

func (m *MockReportRepository) archivedLocked(id int64) *ArchivedReport {
	r := m.Reports[id]
	a := &ArchivedReport{
		ReportID:   r.ID,
		ReportName: r.ReportName,
		ArchivedAt: m.ArchivedAt[id],
		Summary:    r.Summary,
	}
	if !r.CreatedAt.IsZero() {
		t := r.CreatedAt.Time
		a.CreatedAt = &t
	}
	return a
}
