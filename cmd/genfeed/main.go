// Command genfeed generates synthetic upstream feed fixtures for manual
// testing: primary-feed JSON messages, a regional push message, and an
// encoded telemetry snapshot pair. The telemetry pair is verified through the
// actual decoder so the fixtures always match real hub behavior.
//
// Usage:
//
//	go run ./cmd/genfeed -out data/mock -time "2026/03/14 09:26:53"
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/seismic-feed-hub/internal/telemetry"
)

const timeLayout = "2006/01/02 15:04:05"

type station struct {
	lat, lon  float64
	intensity int
}

var stations = []station{
	{lat: 35.25, lon: 129.75, intensity: 4},
	{lat: 36.50, lon: 128.00, intensity: 7},
	{lat: 33.75, lon: 125.50, intensity: 0},
	{lat: 38.00, lon: 127.25, intensity: 11},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "data/mock", "output directory for fixtures")
	timeStr := flag.String("time", time.Now().Format(timeLayout), "event time, yyyy/MM/dd HH:mm:ss")
	flag.Parse()

	at, err := time.Parse(timeLayout, *timeStr)
	if err != nil {
		return fmt.Errorf("parse -time: %w", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	fixtures := map[string]any{
		"primary_quake.json":   primaryQuake(at),
		"primary_tsunami.json": primaryTsunami(at),
		"primary_eew.json":     primaryEarlyWarning(at),
		"regional_jma.json":    regionalPush(at),
	}
	for name, v := range fixtures {
		if err := writeJSON(filepath.Join(*outDir, name), v); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Printf("wrote %s", name)
	}

	coord, intensity := encodeTelemetry()
	if err := os.WriteFile(filepath.Join(*outDir, "telemetry_coord.bin"), coord, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(*outDir, "telemetry_intensity.bin"), intensity, 0o600); err != nil {
		return err
	}
	log.Printf("wrote telemetry pair (%d stations)", len(stations))

	// Round-trip through the real decoder so a packing mistake fails loudly
	// here instead of in the hub.
	decoded, err := telemetry.DecodeStations(coord, intensity)
	if err != nil {
		return fmt.Errorf("telemetry fixtures do not decode: %w", err)
	}
	for _, s := range decoded {
		log.Printf("  station %d: lat=%.2f lon=%.2f intensity=%d", s.ID, s.Lat, s.Lon, s.Intensity)
	}
	return nil
}

func primaryQuake(at time.Time) map[string]any {
	return map[string]any{
		"code": 551,
		"time": at.Format(timeLayout),
		"earthquake": map[string]any{
			"time":            at.Format(timeLayout),
			"maxScale":        50,
			"domesticTsunami": "Watch",
			"hypocenter": map[string]any{
				"name":      "offshore test region",
				"latitude":  34.2,
				"longitude": 128.1,
				"depth":     40.0,
				"magnitude": 6.2,
			},
		},
		"points": []map[string]any{
			{"addr": "coastal town", "pref": "test prefecture", "scale": 45},
			{"addr": "inland city", "pref": "test prefecture", "scale": 30},
		},
	}
}

func primaryTsunami(at time.Time) map[string]any {
	return map[string]any{
		"code":      552,
		"time":      at.Format(timeLayout),
		"cancelled": false,
		"areas": []map[string]any{
			{"name": "east coast", "grade": "Warning", "maxHeight": map[string]any{"value": 3.0}},
			{"name": "north bay", "grade": "Watch", "maxHeight": map[string]any{"value": 1.0}},
		},
	}
}

func primaryEarlyWarning(at time.Time) map[string]any {
	return map[string]any{
		"code":      556,
		"time":      at.Format(timeLayout),
		"test":      false,
		"cancelled": false,
		"issue":     map[string]any{"eventId": "20260314092653", "serial": 2},
		"earthquake": map[string]any{
			"time": at.Format(timeLayout),
			"hypocenter": map[string]any{
				"name":      "offshore test region",
				"latitude":  34.2,
				"longitude": 128.1,
				"depth":     40.0,
				"magnitude": 6.2,
			},
		},
		"areas": []map[string]any{
			{"name": "coastal district", "scaleTo": 50, "arrivalTime": at.Add(12 * time.Second).Format(timeLayout), "arrived": false},
		},
	}
}

func regionalPush(at time.Time) map[string]any {
	return map[string]any{
		"jma_eew": map[string]any{
			"event_id":      "20260314092653",
			"serial":        2,
			"origin_time":   at.Format("2006-01-02 15:04:05"),
			"hypocenter":    "offshore test region",
			"magnitude":     6.2,
			"depth":         40.0,
			"max_intensity": 5,
			"is_final":      false,
			"is_cancel":     false,
			"is_training":   false,
		},
	}
}

// encodeTelemetry packs the fixture stations into the wire format: a 32-bit
// header, then per station 10+10 coordinate bits (MSB-first) and one 4-bit
// intensity nibble in the companion buffer.
func encodeTelemetry() (coord, intensity []byte) {
	w := &bitWriter{}
	w.writeBits(0, 32)
	for _, s := range stations {
		lat, lon := s.lat, s.lon
		// Stations placed on the corrected island grid are stored at the
		// raw position the decoder shifts from.
		if lat >= 37 && lat <= 38 && lon >= 130 && lon <= 131 {
			lon -= 10
		}
		w.writeBits(uint64((lat-30.0)*100+0.5), 10)
		w.writeBits(uint64((lon-120.0)*100+0.5), 10)
	}

	iw := &bitWriter{}
	for _, s := range stations {
		iw.writeBits(uint64(s.intensity), 4)
	}
	return w.bytes(), iw.bytes()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

type bitWriter struct {
	buf  []byte
	nbit uint
}

func (w *bitWriter) writeBits(v uint64, n uint) {
	for i := n; i > 0; i-- {
		bit := byte(v>>(i-1)) & 1
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		w.buf[len(w.buf)-1] |= bit << (7 - w.nbit%8)
		w.nbit++
	}
}

func (w *bitWriter) bytes() []byte { return w.buf }
