package publish

import (
	"context"
	"os"
	"testing"
	"time"

	"screener-engine/src/models"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisherRoundTrip(t *testing.T) {
	addr := os.Getenv("SCREENER_TEST_REDIS")
	if addr == "" {
		t.Skip("SCREENER_TEST_REDIS not set")
	}
	ctx := context.Background()

	p, err := NewRedisPublisher(models.MCacheConfig{RedisAddr: addr}, time.Minute)
	require.NoError(t, err)
	defer p.Close()

	snapshot := time.Now().UTC().Truncate(time.Second)
	symbol := "TEST" + snapshot.Format("150405")
	require.NoError(t, p.PublishRows(ctx, []models.MScreenerRow{
		{Symbol: symbol, SnapshotAt: snapshot, Price: null.FloatFrom(12.5)},
	}))
	defer p.RemoveRow(ctx, symbol)

	row, err := p.GetRow(ctx, symbol)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 12.5, row.Price.Float64)
	assert.False(t, row.Change.Valid)

	updated, err := p.UpdatedSince(ctx, snapshot)
	require.NoError(t, err)
	assert.Contains(t, updated, symbol)

	require.NoError(t, p.RemoveRow(ctx, symbol))
	row, err = p.GetRow(ctx, symbol)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestRowKey(t *testing.T) {
	assert.Equal(t, "screener:row:ABC", RowKey("ABC"))
}
