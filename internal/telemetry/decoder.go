// Package telemetry decodes the kmoni station snapshot format: two paired
// binary payloads, one carrying packed station coordinates and one carrying
// per-station intensity codes.
//
// Both payloads begin with a 32-bit header that is skipped. The coordinate
// payload then packs 20 bits per station (10-bit latitude field followed by
// 10-bit longitude field), most-significant-bit first; the intensity payload
// packs one 4-bit code per station in the same bit order. Stations pair with
// intensities by position, not by ID.
package telemetry

import (
	"errors"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
)

const (
	headerBits    = 32
	coordBits     = 20
	fieldBits     = 10
	intensityBits = 4

	latBase = 30.0
	lonBase = 120.0
)

// ErrTruncated is returned when the coordinate payload is too short to hold
// even the header. A short-but-valid payload decodes to the complete records
// that fit and is not an error.
var ErrTruncated = errors.New("telemetry: coordinate payload shorter than header")

// DecodeStations decodes a coordinate payload and an optional intensity
// payload into an ordered station list. Pass a nil or empty intensity payload
// to default every intensity to 0; a short intensity payload defaults only
// the stations it does not cover. Station IDs are 1-based positions in the
// coordinate table.
func DecodeStations(coord, intensity []byte) ([]domain.StationReading, error) {
	totalBits := len(coord) * 8
	if totalBits < headerBits {
		return nil, ErrTruncated
	}

	n := (totalBits - headerBits) / coordBits
	stations := make([]domain.StationReading, 0, n)
	for i := 0; i < n; i++ {
		off := headerBits + i*coordBits
		latBits := readBits(coord, off, fieldBits)
		lonBits := readBits(coord, off+fieldBits, fieldBits)

		lat := latBase + float64(latBits)/100
		lon := lonBase + float64(lonBits)/100
		lat, lon = correctIslandGrid(lat, lon)

		stations = append(stations, domain.StationReading{
			ID:  i + 1,
			Lat: lat,
			Lon: lon,
		})
	}

	applyIntensities(stations, intensity)
	return stations, nil
}

// correctIslandGrid shifts stations in the island group that straddles the
// standard grid. Positions decoding into [37,38]x[120,121] actually sit ten
// degrees further east; the correction is mandatory.
func correctIslandGrid(lat, lon float64) (float64, float64) {
	if lat >= 37.0 && lat <= 38.0 && lon >= 120.0 && lon <= 121.0 {
		lon += 10
	}
	return lat, lon
}

// applyIntensities pairs 4-bit intensity codes with stations by index.
// Stations beyond the intensity table keep intensity 0.
func applyIntensities(stations []domain.StationReading, intensity []byte) {
	totalBits := len(intensity) * 8
	if totalBits < headerBits {
		return
	}
	m := (totalBits - headerBits) / intensityBits
	for i := range stations {
		if i >= m {
			return
		}
		stations[i].Intensity = int(readBits(intensity, headerBits+i*intensityBits, intensityBits))
	}
}

// readBits reads n bits starting at bit offset off, MSB-first within the
// stream (bit 0 of byte 0 is the first bit consumed).
func readBits(buf []byte, off, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		bit := off + i
		b := buf[bit/8]
		v = v<<1 | uint32(b>>(7-bit%8))&1
	}
	return v
}
