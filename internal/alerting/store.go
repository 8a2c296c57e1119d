package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

var (
	ErrAlertNotFound        = errors.New("alert not found")
	ErrAlertAlreadyResolved = errors.New("alert already resolved")
)

// AlertFilter selects alerts. Zero values are ignored.
type AlertFilter struct {
	RuleID       string          `form:"rule_id"`
	Severity     models.Severity `form:"severity"`
	Resolved     *bool           `form:"resolved"`
	Acknowledged *bool           `form:"acknowledged"`
	From         time.Time       `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To           time.Time       `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit        int             `form:"limit"`
	Offset       int             `form:"offset"`
}

// AlertStats summarizes stored alerts.
type AlertStats struct {
	Total        int64            `json:"total"`
	Open         int64            `json:"open"`
	Acknowledged int64            `json:"acknowledged"`
	Resolved     int64            `json:"resolved"`
	Last24h      int64            `json:"last_24h"`
	BySeverity   map[string]int64 `json:"by_severity"`
	ByRule       map[string]int64 `json:"by_rule"`
}

// AlertStore persists alerts.
type AlertStore interface {
	Save(ctx context.Context, a *models.SecurityAlert) error
	Get(ctx context.Context, id string) (*models.SecurityAlert, error)
	Update(ctx context.Context, a *models.SecurityAlert) error
	List(ctx context.Context, f AlertFilter) ([]models.SecurityAlert, int64, error)
	Stats(ctx context.Context, now time.Time) (*AlertStats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormAlertStore keeps alerts in the security_alerts table.
type GormAlertStore struct {
	db *gorm.DB
}

// NewGormAlertStore wraps db.
func NewGormAlertStore(db *gorm.DB) *GormAlertStore {
	return &GormAlertStore{db: db}
}

// Save inserts a new alert.
func (s *GormAlertStore) Save(ctx context.Context, a *models.SecurityAlert) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// Get loads one alert.
func (s *GormAlertStore) Get(ctx context.Context, id string) (*models.SecurityAlert, error) {
	var a models.SecurityAlert
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}

// Update writes every column of a.
func (s *GormAlertStore) Update(ctx context.Context, a *models.SecurityAlert) error {
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return nil
}

func (f AlertFilter) apply(q *gorm.DB) *gorm.DB {
	if f.RuleID != "" {
		q = q.Where("rule_id = ?", f.RuleID)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Resolved != nil {
		q = q.Where("resolved = ?", *f.Resolved)
	}
	if f.Acknowledged != nil {
		q = q.Where("acknowledged = ?", *f.Acknowledged)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	return q
}

// List returns alerts newest first.
func (s *GormAlertStore) List(ctx context.Context, f AlertFilter) ([]models.SecurityAlert, int64, error) {
	base := func() *gorm.DB {
		return f.apply(s.db.WithContext(ctx).Model(&models.SecurityAlert{}))
	}
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}
	var alerts []models.SecurityAlert
	q := base().Order("created_at DESC").Offset(f.Offset)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, total, nil
}

// Stats aggregates stored alerts.
func (s *GormAlertStore) Stats(ctx context.Context, now time.Time) (*AlertStats, error) {
	base := func() *gorm.DB { return s.db.WithContext(ctx).Model(&models.SecurityAlert{}) }
	st := &AlertStats{BySeverity: map[string]int64{}, ByRule: map[string]int64{}}

	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&st.Total, base()},
		{&st.Open, base().Where("resolved = ?", false)},
		{&st.Acknowledged, base().Where("acknowledged = ?", true)},
		{&st.Resolved, base().Where("resolved = ?", true)},
		{&st.Last24h, base().Where("created_at >= ?", now.UTC().Add(-24*time.Hour))},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("count alerts: %w", err)
		}
	}

	var rows []struct {
		Name  string
		Total int64
	}
	if err := base().Select("severity AS name, COUNT(*) AS total").Group("severity").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("alerts by severity: %w", err)
	}
	for _, r := range rows {
		st.BySeverity[r.Name] = r.Total
	}
	rows = nil
	if err := base().Select("rule_id AS name, COUNT(*) AS total").Group("rule_id").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("alerts by rule: %w", err)
	}
	for _, r := range rows {
		st.ByRule[r.Name] = r.Total
	}
	return st, nil
}

// DeleteBefore removes alerts created before cutoff regardless of state.
func (s *GormAlertStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&models.SecurityAlert{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
