// Package http exposes the telemetry REST surface over gin.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/config"
	"github.com/tynys-aq/telemetry/internal/ingest"
	"github.com/tynys-aq/telemetry/internal/query"
)

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg    config.Config
	ingest *ingest.Service
	query  *query.Service
	log    *zap.Logger
	engine *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, ing *ingest.Service, qry *query.Service, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(requestLogMiddleware(log))
	engine.Use(corsMiddleware())

	server := &Server{cfg: cfg, ingest: ing, query: qry, log: log, engine: engine}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/api/v1")

	// Only the device write path is credentialed. Read endpoints serve
	// public map clients.
	v1.POST("/sensor-data", ingestAuthMiddleware(s.cfg.IngestSecret), s.handleIngest)

	v1.GET("/readings/latest", s.handleLatestReadings)
	v1.GET("/readings/threshold", s.handleThresholdReadings)
	v1.GET("/readings/:device_id", s.handleDeviceReadings)
	v1.GET("/rollups/:sensor_id", s.handleRollups)
	v1.GET("/sensors/nearby", s.handleNearbySensors)
	v1.GET("/sensors/low-battery", s.handleLowBattery)
	v1.GET("/sensors/:sensor_id/health", s.handleSensorHealth)
	v1.GET("/map/live", s.handleMapLive)
	v1.GET("/map/sensors", s.handleMapSensors)
}
