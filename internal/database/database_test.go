package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

func TestOpen(t *testing.T) {
	// Test with memory DB
	db, err := Open("file::memory:?cache=shared")
	assert.NoError(t, err)
	assert.NotNil(t, db)

	// Test with file DB
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err = Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.AuditEvent{}))
	assert.NoError(t, Close(db))
}

func TestOpenMemory_IsolatedByName(t *testing.T) {
	a, err := OpenMemory(t.Name() + "/a")
	require.NoError(t, err)
	b, err := OpenMemory(t.Name() + "/b")
	require.NoError(t, err)

	require.NoError(t, a.Create(&models.AccessList{UUID: "x", Name: "office", Type: models.AccessListAllow}).Error)

	var countA, countB int64
	a.Model(&models.AccessList{}).Count(&countA)
	b.Model(&models.AccessList{}).Count(&countB)
	assert.Equal(t, int64(1), countA)
	assert.Equal(t, int64(0), countB)
}
