package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/config"
	"github.com/tynys-aq/telemetry/internal/db"
	"github.com/tynys-aq/telemetry/internal/ingest"
	"github.com/tynys-aq/telemetry/internal/query"
)

// stubStore satisfies both the ingest and query store interfaces with
// canned behavior per test.
type stubStore struct {
	hasReading bool
	insertErr  error
	liveErr    error
	liveRows   []db.LiveRow
	latest     []db.ReadingRow
	latestErr  error
}

func (s *stubStore) HasReading(ctx context.Context, hash string) (bool, error) {
	return s.hasReading, nil
}

func (s *stubStore) ResolveSite(ctx context.Context, name string) (int64, error) {
	return 7, nil
}

func (s *stubStore) ResolveSensor(ctx context.Context, p db.SensorParams) (db.Sensor, error) {
	return db.Sensor{ID: 42, DeviceID: p.DeviceID}, nil
}

func (s *stubStore) InsertReading(ctx context.Context, r db.NewReading) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	return 1001, nil
}

func (s *stubStore) InsertHealthRecord(ctx context.Context, h db.NewHealthRecord) error {
	return nil
}

func (s *stubStore) LatestReadings(ctx context.Context, limit int) ([]db.ReadingRow, error) {
	return s.latest, s.latestErr
}

func (s *stubStore) DeviceReadings(ctx context.Context, deviceID string, start, end time.Time) ([]db.ReadingRow, error) {
	return nil, nil
}

func (s *stubStore) Rollups(ctx context.Context, sensorID int64, bucket string, start, end time.Time) ([]db.Rollup, error) {
	return nil, nil
}

func (s *stubStore) ThresholdReadings(ctx context.Context, q db.ThresholdQuery) ([]db.ReadingRow, error) {
	return nil, nil
}

func (s *stubStore) LowBatteryReadings(ctx context.Context, threshold float64) ([]db.BatteryRow, error) {
	return nil, nil
}

func (s *stubStore) SensorsWithCoordinates(ctx context.Context) ([]db.Sensor, error) {
	return nil, nil
}

func (s *stubStore) HealthRecords(ctx context.Context, sensorID int64, since time.Time) ([]db.HealthRecord, error) {
	return nil, nil
}

func (s *stubStore) LiveReadings(ctx context.Context, limit int) ([]db.LiveRow, error) {
	return s.liveRows, s.liveErr
}

func newTestServer(store *stubStore, secret string) *Server {
	cfg := config.Config{Port: 8080, DefaultLimit: 100, IngestSecret: secret}
	log := zap.NewNop()
	return New(cfg, ingest.New(store, nil, log), query.New(store, nil, log), log)
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func ingestBody(ts time.Time) map[string]any {
	return map[string]any{
		"device_id": "AQ-001",
		"site":      "downtown",
		"timestamp": ts.Format(time.RFC3339),
		"readings":  map[string]any{"pm25": 12.5, "co2": 420, "temp": 21.3},
	}
}

func TestIngestUnconfiguredSecret(t *testing.T) {
	srv := newTestServer(&stubStore{}, "")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sensor-data", "any", ingestBody(time.Now().UTC()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestIngestMissingOrWrongCredential(t *testing.T) {
	srv := newTestServer(&stubStore{}, "s3cret")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sensor-data", "", ingestBody(time.Now().UTC()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sensor-data", "wrong", ingestBody(time.Now().UTC()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestCreated(t *testing.T) {
	srv := newTestServer(&stubStore{}, "s3cret")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sensor-data", "s3cret", ingestBody(time.Now().UTC()))
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["duplicate"])
	assert.Equal(t, float64(1001), body["reading_id"])
	assert.Equal(t, float64(42), body["sensor_id"])
	assert.Equal(t, "AQ-001", body["device_id"])
}

func TestIngestDuplicate(t *testing.T) {
	srv := newTestServer(&stubStore{hasReading: true}, "s3cret")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sensor-data", "s3cret", ingestBody(time.Now().UTC()))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["duplicate"])
	assert.NotContains(t, body, "reading_id")
}

func TestIngestValidationFailure(t *testing.T) {
	srv := newTestServer(&stubStore{}, "s3cret")

	payload := ingestBody(time.Now().UTC())
	payload["readings"] = map[string]any{"co2": 6000}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sensor-data", "s3cret", payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	errs, ok := body["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "co2")
}

func TestIngestStoreFailure(t *testing.T) {
	srv := newTestServer(&stubStore{insertErr: errors.New("connection refused")}, "s3cret")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sensor-data", "s3cret", ingestBody(time.Now().UTC()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	// No internal detail leaks to the client.
	assert.NotContains(t, fmt.Sprint(body["error"]), "connection refused")
}

func TestLatestReadings(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(&stubStore{latest: []db.ReadingRow{
		{ID: 1, SensorID: 42, DeviceID: "AQ-001", Timestamp: ts},
	}}, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/readings/latest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["count"])
}

func TestLatestReadingsInvalidLimit(t *testing.T) {
	srv := newTestServer(&stubStore{}, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/readings/latest?limit=-2", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceReadingsWindowBounds(t *testing.T) {
	srv := newTestServer(&stubStore{}, "")

	// Equal bounds select the single instant; the range is inclusive.
	instant := "2026-03-01T12:00:00Z"
	rec := doJSON(t, srv, http.MethodGet,
		"/api/v1/readings/AQ-001?start="+instant+"&end="+instant, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet,
		"/api/v1/readings/AQ-001?start="+instant+"&end=2026-03-01T11:00:00Z", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollupsBadBucket(t *testing.T) {
	srv := newTestServer(&stubStore{}, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/rollups/42?bucket=week", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNearbyRequiresCoordinates(t *testing.T) {
	srv := newTestServer(&stubStore{}, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/sensors/nearby?radius_km=5", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapLiveDegradesToEmptySuccess(t *testing.T) {
	srv := newTestServer(&stubStore{liveErr: errors.New("db down")}, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/map/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["count"])
	data, ok := body["data"].([]any)
	require.True(t, ok)
	assert.Empty(t, data)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubStore{}, "")

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
