package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RecordAndLatest(t *testing.T) {
	ctx := context.Background()
	st, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)

	base := time.Date(2024, 7, 1, 14, 0, 0, 0, time.UTC)
	first := RunRecord{ID: "run-1", StartedAt: base, FinishedAt: base.Add(time.Second), Mode: "simulated", Outcome: "ok"}
	second := RunRecord{
		ID:               "run-2",
		StartedAt:        base.Add(time.Minute),
		FinishedAt:       base.Add(time.Minute + 2*time.Second),
		Mode:             "simulated",
		Outcome:          "ok",
		PortfolioSize:    10000,
		RiskPercentAfter: 4,
		TradesMade:       2,
		Skips:            []Skip{{Symbol: "XYZ", Reason: "insufficient history"}},
		Report:           json.RawMessage(`{"trades":2}`),
	}
	require.NoError(t, st.Record(ctx, first))
	require.NoError(t, st.Record(ctx, second))

	latest, err := st.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
	assert.Equal(t, 2, latest.TradesMade)
	assert.Equal(t, []Skip{{Symbol: "XYZ", Reason: "insufficient history"}}, latest.Skips)
	assert.JSONEq(t, `{"trades":2}`, string(latest.Report))

	runs, err := st.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Empty(t, runs[1].Skips)
}
