package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupModelsDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:models_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&AuditEvent{}, &SecurityAlert{}, &AccessList{}))
	return db
}

func TestSeverity_Ordering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.False(t, Severity("urgent").Valid())

	s, ok := ParseSeverity(" HIGH ")
	assert.True(t, ok)
	assert.Equal(t, SeverityHigh, s)

	_, ok = ParseCategory("billing")
	assert.False(t, ok)
}

func TestEventMetadata_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    EventMetadata
		wantErr bool
	}{
		{name: "empty payload", meta: EventMetadata{Category: CategorySystem}},
		{name: "matching payload", meta: EventMetadata{Category: CategoryAuth, Auth: &AuthDetails{Success: false}}},
		{name: "mismatched payload", meta: EventMetadata{Category: CategoryData, Security: &SecurityDetails{}}, wantErr: true},
		{name: "two payloads", meta: EventMetadata{Category: CategoryAuth, Auth: &AuthDetails{}, System: &SystemDetails{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMetadataMismatch)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAuditEvent_PersistsTypedMetadata(t *testing.T) {
	db := setupModelsDB(t)
	until := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)

	ev := AuditEvent{
		ID:        "evt-1",
		Action:    ActionBruteForceAttempt,
		SourceIP:  "203.0.113.5",
		Severity:  SeverityHigh,
		Category:  CategorySecurity,
		NewValues: JSONMap{"count": 6},
		Metadata: EventMetadata{
			Severity: SeverityHigh,
			Category: CategorySecurity,
			Security: &SecurityDetails{Key: "203.0.113.5:/api/auth/login", Count: 6, MaxRequests: 5, BlockedUntil: &until},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&ev).Error)

	var got AuditEvent
	require.NoError(t, db.First(&got, "id = ?", "evt-1").Error)
	require.NotNil(t, got.Metadata.Security)
	assert.Equal(t, 6, got.Metadata.Security.Count)
	assert.Equal(t, "203.0.113.5:/api/auth/login", got.Metadata.Security.Key)
	assert.True(t, until.Equal(*got.Metadata.Security.BlockedUntil))
	assert.Nil(t, got.Metadata.Auth)
	assert.EqualValues(t, 6, got.NewValues["count"])
	assert.Nil(t, got.OldValues)
}

func TestSecurityAlert_Persists(t *testing.T) {
	db := setupModelsDB(t)
	alert := SecurityAlert{
		ID:        "alert-1",
		RuleID:    "brute_force_login",
		RuleName:  "Brute force login",
		Severity:  SeverityHigh,
		Message:   "5 failed logins",
		Details:   JSONMap{"source_ip": "203.0.113.5"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&alert).Error)

	var got SecurityAlert
	require.NoError(t, db.First(&got, "id = ?", "alert-1").Error)
	assert.Equal(t, "203.0.113.5", got.Details["source_ip"])
	assert.False(t, got.Resolved)
	assert.Nil(t, got.AcknowledgedAt)
}
