package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tynys-aq/telemetry/internal/db"
	"github.com/tynys-aq/telemetry/internal/ingest"
	"github.com/tynys-aq/telemetry/internal/validate"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
)

func (s *Server) handleIngest(c *gin.Context) {
	var payload validate.ReadingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"errors":  []string{"malformed JSON body"},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	outcome, err := s.ingest.Ingest(ctx, &payload)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success":  false,
				"errors":   verr.Errors,
				"warnings": verr.Warnings,
			})
			return
		}
		s.log.Error("ingest failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("device_id", payload.DeviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to record reading",
		})
		return
	}

	if outcome.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"duplicate": true,
			"device_id": outcome.DeviceID,
			"timestamp": outcome.Timestamp,
			"warnings":  outcome.Warnings,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"duplicate":  false,
		"reading_id": outcome.ReadingID,
		"sensor_id":  outcome.SensorID,
		"device_id":  outcome.DeviceID,
		"timestamp":  outcome.Timestamp,
		"warnings":   outcome.Warnings,
	})
}

func (s *Server) handleLatestReadings(c *gin.Context) {
	limit := s.cfg.DefaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rows, err := s.query.Latest(ctx, limit)
	if err != nil {
		s.storeError(c, "latest readings", err)
		return
	}
	listResponse(c, rows, len(rows))
}

func (s *Server) handleDeviceReadings(c *gin.Context) {
	deviceID := c.Param("device_id")

	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rows, err := s.query.DeviceWindow(ctx, deviceID, start, end)
	if err != nil {
		s.storeError(c, "device readings", err)
		return
	}
	listResponse(c, rows, len(rows))
}

func (s *Server) handleRollups(c *gin.Context) {
	sensorID, err := strconv.ParseInt(c.Param("sensor_id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid sensor_id")
		return
	}

	bucket := c.DefaultQuery("bucket", "hour")
	if bucket != "hour" && bucket != "day" {
		badRequest(c, "bucket must be hour or day")
		return
	}

	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rollups, err := s.query.Rollups(ctx, sensorID, bucket, start, end)
	if err != nil {
		s.storeError(c, "rollups", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sensor_id": sensorID,
		"bucket":    bucket,
		"data":      rollups,
		"count":     len(rollups),
	})
}

func (s *Server) handleThresholdReadings(c *gin.Context) {
	var q db.ThresholdQuery
	for name, dst := range map[string]**float64{
		"pm25": &q.PM25,
		"pm10": &q.PM10,
		"co2":  &q.CO2,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "invalid "+name)
			return
		}
		*dst = &v
	}

	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid start timestamp")
			return
		}
		tt := t.UTC()
		q.Start = &tt
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid end timestamp")
			return
		}
		tt := t.UTC()
		q.End = &tt
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rows, err := s.query.Exceedances(ctx, q)
	if err != nil {
		s.storeError(c, "threshold readings", err)
		return
	}
	listResponse(c, rows, len(rows))
}

func (s *Server) handleNearbySensors(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		badRequest(c, "invalid lat")
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		badRequest(c, "invalid lon")
		return
	}
	radius, err := strconv.ParseFloat(c.Query("radius_km"), 64)
	if err != nil || radius <= 0 {
		badRequest(c, "invalid radius_km")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	sensors, err := s.query.Nearby(ctx, lat, lon, radius)
	if err != nil {
		s.storeError(c, "nearby sensors", err)
		return
	}
	listResponse(c, sensors, len(sensors))
}

func (s *Server) handleLowBattery(c *gin.Context) {
	threshold := 20.0
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 100 {
			badRequest(c, "invalid threshold")
			return
		}
		threshold = v
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	rows, err := s.query.LowBattery(ctx, threshold)
	if err != nil {
		s.storeError(c, "low battery scan", err)
		return
	}
	listResponse(c, rows, len(rows))
}

func (s *Server) handleSensorHealth(c *gin.Context) {
	sensorID, err := strconv.ParseInt(c.Param("sensor_id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid sensor_id")
		return
	}

	days := 7
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			badRequest(c, "invalid days")
			return
		}
		days = v
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	records, err := s.query.HealthSummary(ctx, sensorID, days)
	if err != nil {
		s.storeError(c, "sensor health", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sensor_id": sensorID,
		"days":      days,
		"data":      records,
		"count":     len(records),
	})
}

// handleMapLive never fails the map client: a store outage degrades to an
// empty successful payload so the poller keeps its last good snapshot.
func (s *Server) handleMapLive(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	records, err := s.query.LiveMap(ctx, s.cfg.DefaultLimit)
	if err != nil {
		s.log.Warn("live map degraded", zap.Error(err))
		listResponse(c, []struct{}{}, 0)
		return
	}
	listResponse(c, records, len(records))
}

func (s *Server) handleMapSensors(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	sensors, err := s.query.MapSensors(ctx)
	if err != nil {
		s.storeError(c, "map sensors", err)
		return
	}
	listResponse(c, sensors, len(sensors))
}

func parseWindow(c *gin.Context) (time.Time, time.Time, bool) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid start timestamp")
			return time.Time{}, time.Time{}, false
		}
		start = t.UTC()
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid end timestamp")
			return time.Time{}, time.Time{}, false
		}
		end = t.UTC()
	}
	// The range is inclusive on both ends, so start == end is a valid
	// single-instant window.
	if end.Before(start) {
		badRequest(c, "end must not be before start")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func listResponse(c *gin.Context, data any, count int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
		"count":   count,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func (s *Server) storeError(c *gin.Context, op string, err error) {
	s.log.Error(op+" failed",
		zap.String("request_id", c.GetString("request_id")), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "query failed",
	})
}
