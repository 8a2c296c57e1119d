package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Store is the durable side of the audit log.
type Store interface {
	Insert(ctx context.Context, events []*models.AuditEvent) error
	Query(ctx context.Context, f Filter) ([]models.AuditEvent, int64, error)
	Since(ctx context.Context, since time.Time, category models.Category) ([]models.AuditEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, scope Scope, now time.Time) (*Stats, error)
}

// GormStore keeps audit events in the audit_events table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Insert writes events in one transaction.
func (s *GormStore) Insert(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(events, len(events)).Error; err != nil {
		return fmt.Errorf("insert audit events: %w", err)
	}
	return nil
}

// Query returns one page of matching events, newest first, and the total
// number of matches.
func (s *GormStore) Query(ctx context.Context, f Filter) ([]models.AuditEvent, int64, error) {
	base := func() *gorm.DB {
		return f.apply(s.db.WithContext(ctx).Model(&models.AuditEvent{}))
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	var events []models.AuditEvent
	q := base().Order("created_at DESC").Order("id DESC").Offset(f.Offset)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	return events, total, nil
}

// Since returns events created at or after since, oldest first.
func (s *GormStore) Since(ctx context.Context, since time.Time, category models.Category) ([]models.AuditEvent, error) {
	q := s.db.WithContext(ctx).Where("created_at >= ?", since.UTC())
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var events []models.AuditEvent
	if err := q.Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("recent audit events: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events created before cutoff.
func (s *GormStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&models.AuditEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type countRow struct {
	Name  string
	Total int64
}

// Stats aggregates the stored events within scope.
func (s *GormStore) Stats(ctx context.Context, scope Scope, now time.Time) (*Stats, error) {
	now = now.UTC()
	base := func() *gorm.DB {
		return scope.apply(s.db.WithContext(ctx).Model(&models.AuditEvent{}))
	}
	st := &Stats{
		BySeverity:  map[string]int64{},
		ByCategory:  map[string]int64{},
		GeneratedAt: now,
	}

	if err := base().Count(&st.Total).Error; err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := base().Where("created_at >= ?", startOfDay).Count(&st.Today).Error; err != nil {
		return nil, fmt.Errorf("count today: %w", err)
	}
	if err := base().Where("created_at >= ?", now.Add(-7*24*time.Hour)).Count(&st.Last7Days).Error; err != nil {
		return nil, fmt.Errorf("count week: %w", err)
	}

	var rows []countRow
	if err := base().Select("severity AS name, COUNT(*) AS total").Group("severity").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group by severity: %w", err)
	}
	for _, r := range rows {
		st.BySeverity[r.Name] = r.Total
	}

	rows = nil
	if err := base().Select("category AS name, COUNT(*) AS total").Group("category").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group by category: %w", err)
	}
	for _, r := range rows {
		st.ByCategory[r.Name] = r.Total
	}

	rows = nil
	if err := base().Select("action AS name, COUNT(*) AS total").Group("action").
		Order("total DESC").Order("action ASC").Limit(topActions).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("top actions: %w", err)
	}
	for _, r := range rows {
		st.TopActions = append(st.TopActions, ActionCount{Action: r.Name, Count: r.Total})
	}

	if err := base().Where("category = ?", models.CategorySecurity).
		Order("created_at DESC").Limit(recentSecurity).Find(&st.RecentSecurity).Error; err != nil {
		return nil, fmt.Errorf("recent security events: %w", err)
	}
	return st, nil
}
