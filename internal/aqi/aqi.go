package aqi

// US EPA PM2.5 breakpoints (µg/m³ → AQI).
type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

var pm25Breakpoints = []breakpoint{
	{0, 12.0, 0, 50},
	{12.0, 35.4, 50, 100},
	{35.4, 55.4, 100, 150},
	{55.4, 150.4, 150, 200},
	{150.4, 250.4, 200, 300},
	{250.4, 350.4, 300, 400},
}

// FromPM25 converts a fine-particulate concentration to the US AQI scale.
func FromPM25(pm25 float64) int {
	if pm25 <= 0 {
		return 0
	}
	for _, bp := range pm25Breakpoints {
		if pm25 <= bp.cHigh {
			return int(bp.iLow + (bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(pm25-bp.cLow))
		}
	}
	last := pm25Breakpoints[len(pm25Breakpoints)-1]
	return int(last.iLow + (last.iHigh-last.iLow)/(last.cHigh-last.cLow)*(pm25-last.cLow))
}

// Category maps an AQI value to its display bucket.
func Category(aqi int) string {
	switch {
	case aqi <= 50:
		return "good"
	case aqi <= 100:
		return "moderate"
	case aqi <= 200:
		return "unhealthy"
	default:
		return "critical"
	}
}
