package analytics_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iSoldLeo/DynamicAPI/internal/analytics"
	"github.com/iSoldLeo/DynamicAPI/internal/history"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/client"
)

func TestStatsPerOperation(t *testing.T) {
	ctx := context.Background()
	h, err := history.NewManager(filepath.Join(t.TempDir(), "history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	records := []client.Record{
		{Operation: "get_user", Profile: "prod", Method: "GET", StatusCode: 200, Duration: 100 * time.Millisecond, Size: 10},
		{Operation: "get_user", Profile: "prod", Method: "GET", StatusCode: 200, Duration: 300 * time.Millisecond, Size: 30},
		{Operation: "get_user", Profile: "dev", Method: "GET", StatusCode: 404, Duration: 50 * time.Millisecond, Err: apierr.Status(404, nil)},
		{Operation: "create_user", Profile: "prod", Method: "POST", Duration: 10 * time.Millisecond, Err: errors.New("dial tcp: refused")},
	}
	for _, rec := range records {
		_, err := h.Save(ctx, rec)
		require.NoError(t, err)
	}

	m := analytics.NewManager(h.DB())

	all, err := m.StatsPerOperation(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	byOp := map[string]analytics.Stats{}
	for _, s := range all {
		byOp[s.Operation] = s
	}

	get := byOp["get_user"]
	assert.Equal(t, "GET", get.Method)
	assert.Equal(t, 3, get.TotalCalls)
	assert.Equal(t, 2, get.SuccessCount)
	assert.Equal(t, 1, get.ErrorCount)
	assert.Equal(t, 0, get.NetworkErrors)
	assert.Equal(t, int64(50), get.MinDurationMs)
	assert.Equal(t, int64(300), get.MaxDurationMs)
	assert.InDelta(t, 150.0, get.AvgDurationMs, 0.001)
	assert.Equal(t, int64(40), get.TotalRespSize)
	assert.Equal(t, map[int]int{200: 2, 404: 1}, get.StatusCodes)
	assert.Equal(t, map[string]int{"network": 1}, get.ErrorKinds)
	assert.False(t, get.LastCalled.IsZero())
	assert.InDelta(t, 66.67, get.SuccessRate(), 0.01)

	create := byOp["create_user"]
	assert.Equal(t, 1, create.NetworkErrors)
	assert.Equal(t, 1, create.ErrorCount)
	assert.Equal(t, map[int]int{0: 1}, create.StatusCodes)
	assert.Equal(t, map[string]int{"unknown": 1}, create.ErrorKinds)

	dev, err := m.StatsPerOperation(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, dev, 1)
	assert.Equal(t, 1, dev[0].TotalCalls)
	assert.Equal(t, 0, dev[0].SuccessCount)
}

func TestStatsEmpty(t *testing.T) {
	h, err := history.NewManager(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	stats, err := analytics.NewManager(h.DB()).StatsPerOperation(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, stats)
	assert.Zero(t, analytics.Stats{}.SuccessRate())
}
