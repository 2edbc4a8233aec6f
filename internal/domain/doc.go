// Package domain models the normalized event shapes produced by the upstream
// seismic and tsunami feeds.
//
// # Upstream feeds
//
// The hub ingests from several independent upstreams, each with its own wire
// shape. Every connector normalizes what it receives into one of the types in
// this package and wraps it in an [Envelope], so the reconciliation engine
// sees a single tagged union regardless of origin:
//
//	primary    persistent WebSocket, JSON discriminated by integer "code"
//	           (551 quake report, 552 tsunami bulletin, 556 early warning)
//	regional-* persistent WebSockets, JSON discriminated by which schema
//	           key is present in the message ("jma_eew", "sc_eew", "fj_eew")
//	cenc       JSON polled on a fixed interval; single object or array,
//	           first element used when an array
//	kmoni      paired binary snapshots (station coordinates + intensities)
//	           fetched by UTC-timestamped path, decoded bit-level
//	ceic       scraped HTML table of foreign quakes, fixed column order
//	history    one-time bulk seed of past events at startup
//
// # Intensity codes
//
// Station and area intensities use the monitor's 0-14 intensity code scale.
// The scraped table reports intensity only as text, so its events carry
// [IntensityUnknown]; consumers must not render that sentinel as a code.
//
// # Time and identity
//
// All event times are UTC instants. Quake events are identified by their
// exact time value: two events with equal time are the same event, and the
// later write wins when lists are merged. Early-warning alerts are identified
// by (source, event ID) and revised via serial numbers; a higher serial for
// the same event ID supersedes the whole record.
package domain
