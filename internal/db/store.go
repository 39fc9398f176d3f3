package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateReading marks an insert that collided with an existing
// fingerprint. Callers treat it as a successful no-op, not a failure.
var ErrDuplicateReading = errors.New("duplicate reading")

// Store wraps database access for the telemetry pipeline.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Site is a physical installation location.
type Site struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	City        *string   `json:"city,omitempty"`
	Country     *string   `json:"country,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sensor is one physical device, identified by its external device id.
type Sensor struct {
	ID              int64     `json:"id"`
	DeviceID        string    `json:"device_id"`
	SiteID          *int64    `json:"site_id,omitempty"`
	SensorType      string    `json:"sensor_type"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	Altitude        *float64  `json:"altitude,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
