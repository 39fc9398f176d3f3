package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprintKey is the canonical serialization fed to the dedup hash. The
// field set and order are fixed: device identity, sample instant and the
// three highest-signal measurements. Metadata deliberately stays out so a
// retry with drifted battery level still hashes to the same value. An absent
// measurement encodes as JSON null, so present-but-zero and absent are
// distinct samples. Changing any of this changes dedup semantics.
type fingerprintKey struct {
	DeviceID  string   `json:"device_id"`
	Timestamp string   `json:"timestamp"`
	PM25      *float64 `json:"pm25"`
	CO2       *float64 `json:"co2"`
	Temp      *float64 `json:"temp"`
}

// Fingerprint derives the stable content hash used for duplicate detection.
func Fingerprint(p *ReadingPayload) string {
	key := fingerprintKey{
		DeviceID:  p.DeviceID,
		Timestamp: p.Timestamp,
		PM25:      p.Readings.PM25,
		CO2:       p.Readings.CO2,
		Temp:      p.Readings.Temp,
	}
	// Marshal of a flat struct with fixed field order cannot fail.
	buf, _ := json.Marshal(key)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
