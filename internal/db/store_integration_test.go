package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a reachable Postgres. Set TEST_DATABASE_URL to run them;
// they create the schema and write rows with generated device ids.
func testStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func testDeviceID(t *testing.T) string {
	return fmt.Sprintf("it-%s-%d", t.Name(), time.Now().UnixNano())
}

func f(v float64) *float64 { return &v }

func TestResolveSiteIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	name := fmt.Sprintf("site-%d", time.Now().UnixNano())
	first, err := store.ResolveSite(ctx, name)
	require.NoError(t, err)

	second, err := store.ResolveSite(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveSensorCreatesThenUpdatesFirmware(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	deviceID := testDeviceID(t)

	created, err := store.ResolveSensor(ctx, SensorParams{DeviceID: deviceID, Firmware: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, deviceID, created.DeviceID)
	require.NotNil(t, created.FirmwareVersion)
	assert.Equal(t, "1.0.0", *created.FirmwareVersion)
	assert.True(t, created.IsActive)

	updated, err := store.ResolveSensor(ctx, SensorParams{DeviceID: deviceID, Firmware: "1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	require.NotNil(t, updated.FirmwareVersion)
	assert.Equal(t, "1.1.0", *updated.FirmwareVersion)
}

func TestInsertReadingDedup(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	deviceID := testDeviceID(t)

	sensor, err := store.ResolveSensor(ctx, SensorParams{DeviceID: deviceID})
	require.NoError(t, err)

	hash := fmt.Sprintf("hash-%s", deviceID)
	reading := NewReading{
		SensorID:         sensor.ID,
		Timestamp:        time.Now().UTC(),
		PM25:             f(12.5),
		CO2:              f(420),
		DataQualityScore: 1.0,
		DataHash:         hash,
	}

	exists, err := store.HasReading(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := store.InsertReading(ctx, reading)
	require.NoError(t, err)
	assert.Positive(t, id)

	exists, err = store.HasReading(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.InsertReading(ctx, reading)
	assert.ErrorIs(t, err, ErrDuplicateReading)
}

func TestRollupsAggregate(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	deviceID := testDeviceID(t)

	sensor, err := store.ResolveSensor(ctx, SensorParams{DeviceID: deviceID})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Hour)
	for i, pm := range []float64{10, 20, 30} {
		_, err := store.InsertReading(ctx, NewReading{
			SensorID:         sensor.ID,
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
			PM25:             f(pm),
			DataQualityScore: 1.0,
			DataHash:         fmt.Sprintf("%s-%d", deviceID, i),
		})
		require.NoError(t, err)
	}

	rollups, err := store.Rollups(ctx, sensor.ID, "hour", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rollups, 1)

	assert.Equal(t, int64(3), rollups[0].Count)
	require.NotNil(t, rollups[0].AvgPM25)
	assert.InDelta(t, 20, *rollups[0].AvgPM25, 1e-9)
	require.NotNil(t, rollups[0].MinPM25)
	assert.InDelta(t, 10, *rollups[0].MinPM25, 1e-9)
	require.NotNil(t, rollups[0].MaxPM25)
	assert.InDelta(t, 30, *rollups[0].MaxPM25, 1e-9)
}

func TestHealthRecordsRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	deviceID := testDeviceID(t)

	sensor, err := store.ResolveSensor(ctx, SensorParams{DeviceID: deviceID})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.InsertHealthRecord(ctx, NewHealthRecord{
		SensorID:       sensor.ID,
		CheckTimestamp: now,
		BatteryLevel:   f(18),
		SignalStrength: f(-95),
		HealthStatus:   "degraded",
	}))

	records, err := store.HealthRecords(ctx, sensor.ID, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "degraded", records[0].HealthStatus)
}
