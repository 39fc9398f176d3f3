package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/db"
	"github.com/tynys-aq/telemetry/internal/validate"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) HasReading(ctx context.Context, hash string) (bool, error) {
	args := m.Called(ctx, hash)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ResolveSite(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ResolveSensor(ctx context.Context, p db.SensorParams) (db.Sensor, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(db.Sensor), args.Error(1)
}

func (m *mockStore) InsertReading(ctx context.Context, r db.NewReading) (int64, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) InsertHealthRecord(ctx context.Context, h db.NewHealthRecord) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func f(v float64) *float64 { return &v }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(store *mockStore) *Service {
	svc := New(store, nil, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func payload() *validate.ReadingPayload {
	return &validate.ReadingPayload{
		DeviceID:  "AQ-001",
		Site:      "downtown",
		Timestamp: testNow.Format(time.RFC3339),
		Readings:  validate.Measurements{PM25: f(12.5), CO2: f(420), Temp: f(21.3)},
	}
}

func TestIngestCreatesReading(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	store.On("ResolveSite", mock.Anything, "downtown").Return(int64(7), nil)
	store.On("ResolveSensor", mock.Anything, mock.MatchedBy(func(p db.SensorParams) bool {
		return p.DeviceID == "AQ-001" && p.SiteID != nil && *p.SiteID == 7
	})).Return(db.Sensor{ID: 42, DeviceID: "AQ-001"}, nil)
	store.On("InsertReading", mock.Anything, mock.MatchedBy(func(r db.NewReading) bool {
		return r.SensorID == 42 && r.DataQualityScore == 1.0 && r.DataHash != ""
	})).Return(int64(1001), nil)

	outcome, err := newService(store).Ingest(context.Background(), payload())
	require.NoError(t, err)

	assert.False(t, outcome.Duplicate)
	assert.Equal(t, int64(1001), outcome.ReadingID)
	assert.Equal(t, int64(42), outcome.SensorID)
	assert.Equal(t, "AQ-001", outcome.DeviceID)
	assert.Empty(t, outcome.Warnings)
	store.AssertExpectations(t)
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	store := &mockStore{}
	p := payload()
	p.Readings.CO2 = f(6000)

	_, err := newService(store).Ingest(context.Background(), p)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Contains(t, verr.Errors[0], "co2")
	assert.Contains(t, verr.Errors[0], "5000")
	// No store call of any kind on validation failure.
	store.AssertNotCalled(t, "HasReading", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InsertReading", mock.Anything, mock.Anything)
}

func TestIngestDuplicateShortCircuits(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(true, nil)

	outcome, err := newService(store).Ingest(context.Background(), payload())
	require.NoError(t, err)

	assert.True(t, outcome.Duplicate)
	assert.Zero(t, outcome.ReadingID)
	store.AssertNotCalled(t, "ResolveSite", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "ResolveSensor", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InsertReading", mock.Anything, mock.Anything)
}

func TestIngestInsertConflictReportsDuplicate(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	store.On("ResolveSite", mock.Anything, "downtown").Return(int64(7), nil)
	store.On("ResolveSensor", mock.Anything, mock.Anything).Return(db.Sensor{ID: 42}, nil)
	store.On("InsertReading", mock.Anything, mock.Anything).Return(int64(0), db.ErrDuplicateReading)

	outcome, err := newService(store).Ingest(context.Background(), payload())
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
}

func TestIngestSkipsSiteResolutionWithoutSite(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	store.On("ResolveSensor", mock.Anything, mock.MatchedBy(func(p db.SensorParams) bool {
		return p.SiteID == nil
	})).Return(db.Sensor{ID: 42}, nil)
	store.On("InsertReading", mock.Anything, mock.Anything).Return(int64(1002), nil)

	p := payload()
	p.Site = ""

	_, err := newService(store).Ingest(context.Background(), p)
	require.NoError(t, err)
	store.AssertNotCalled(t, "ResolveSite", mock.Anything, mock.Anything)
}

func TestIngestWritesHealthRecord(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	store.On("ResolveSite", mock.Anything, "downtown").Return(int64(7), nil)
	store.On("ResolveSensor", mock.Anything, mock.Anything).Return(db.Sensor{ID: 42}, nil)
	store.On("InsertReading", mock.Anything, mock.Anything).Return(int64(1003), nil)
	store.On("InsertHealthRecord", mock.Anything, mock.MatchedBy(func(h db.NewHealthRecord) bool {
		return h.SensorID == 42 && h.HealthStatus == "degraded" &&
			h.BatteryLevel != nil && *h.BatteryLevel == 18
	})).Return(nil)

	p := payload()
	p.Metadata = &validate.Metadata{Battery: f(18), Signal: f(-85)}

	outcome, err := newService(store).Ingest(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	store.AssertExpectations(t)
}

func TestIngestHealthFailureDoesNotFailCall(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	store.On("ResolveSite", mock.Anything, "downtown").Return(int64(7), nil)
	store.On("ResolveSensor", mock.Anything, mock.Anything).Return(db.Sensor{ID: 42}, nil)
	store.On("InsertReading", mock.Anything, mock.Anything).Return(int64(1004), nil)
	store.On("InsertHealthRecord", mock.Anything, mock.Anything).Return(errors.New("health table gone"))

	p := payload()
	p.Metadata = &validate.Metadata{Battery: f(90)}

	outcome, err := newService(store).Ingest(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(1004), outcome.ReadingID)
}

func TestIngestStoreFailureSurfaces(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(false, errors.New("connection refused"))

	_, err := newService(store).Ingest(context.Background(), payload())
	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestIngestQualityScorePenalizesWarnings(t *testing.T) {
	store := &mockStore{}
	store.On("HasReading", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	store.On("ResolveSite", mock.Anything, "downtown").Return(int64(7), nil)
	store.On("ResolveSensor", mock.Anything, mock.Anything).Return(db.Sensor{ID: 42}, nil)
	store.On("InsertReading", mock.Anything, mock.MatchedBy(func(r db.NewReading) bool {
		return r.DataQualityScore == 0.9
	})).Return(int64(1005), nil)

	p := payload()
	p.Readings.CO2 = f(4600)

	outcome, err := newService(store).Ingest(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, outcome.Warnings, 1)
	store.AssertExpectations(t)
}

func TestQualityScoreFloor(t *testing.T) {
	assert.Equal(t, 1.0, qualityScore(nil))
	assert.Equal(t, 0.8, qualityScore([]string{"a", "b"}))
	assert.Equal(t, 0.5, qualityScore([]string{"a", "b", "c", "d", "e", "f", "g"}))
}

func TestHealthStatus(t *testing.T) {
	assert.Equal(t, "ok", healthStatus(f(80), f(-60)))
	assert.Equal(t, "degraded", healthStatus(f(20), nil))
	assert.Equal(t, "degraded", healthStatus(nil, f(-105)))
	assert.Equal(t, "critical", healthStatus(f(5), nil))
	assert.Equal(t, "critical", healthStatus(nil, f(-115)))
	assert.Equal(t, "ok", healthStatus(nil, nil))
}
