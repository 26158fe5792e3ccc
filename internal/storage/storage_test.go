package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/fraudgraph/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "user@/db", nil)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = Open(DriverSQLite, "", nil)
	assert.Error(t, err)
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	db, err := Open(DriverSQLite, path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(DriverSQLite, path, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestScoreAudit_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	audit := NewScoreAudit(openTestDB(t))

	_, err := audit.Record(ctx, models.Score{TransactionID: "tx1"}, OutcomeModelUnavailable, 3*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	id, err := audit.Record(ctx, models.Score{
		TransactionID:    "tx1",
		FraudProbability: 0.82,
		ModelBacked:      true,
		RiskFactors:      []models.RiskFactor{{Factor: "amount_log", Importance: 1}},
	}, OutcomeScored, 12*time.Millisecond)
	require.NoError(t, err)

	_, err = audit.Record(ctx, models.Score{TransactionID: "tx2"}, OutcomeError, time.Millisecond)
	require.NoError(t, err)

	records, err := audit.Recent(ctx, "tx1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	newest := records[0]
	assert.Equal(t, id, newest.ID)
	assert.True(t, newest.ModelBacked)
	assert.Equal(t, OutcomeScored, newest.Outcome)
	assert.InDelta(t, 0.82, newest.FraudProbability, 1e-9)
	assert.Equal(t, int64(12), newest.LatencyMS)
	require.Len(t, newest.RiskFactors, 1)
	assert.Equal(t, "amount_log", newest.RiskFactors[0].Factor)

	assert.Equal(t, OutcomeModelUnavailable, records[1].Outcome)
	assert.False(t, records[1].ModelBacked)

	limited, err := audit.Recent(ctx, "tx1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
