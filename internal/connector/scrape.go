package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
)

// Column positions in the scraped quake table. The order is a contract with
// the upstream page and breaks silently if the page changes; keep
// TestParseQuakeTable_ColumnMapping in sync.
const (
	colTime = iota
	colMagnitude
	colIntensityText
	colLatitude
	colLongitude
	colDepth
	colLocation
	quakeTableColumns
)

const scrapeTimeLayout = "2006-01-02 15:04:05"

// NewScrapedTable creates the connector that scrapes the foreign-quake HTML
// table on a fixed interval.
func NewScrapedTable(
	url string,
	interval time.Duration,
	emit Emitter,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *PollConnector {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	scrapeLogger := logger.With("source", domain.SourceCEIC)
	poll := func(ctx context.Context) ([]domain.Envelope, error) {
		quakes, err := scrapeQuakeTable(ctx, httpClient, url, scrapeLogger)
		if err != nil {
			return nil, err
		}
		envs := make([]domain.Envelope, 0, len(quakes))
		for i := range quakes {
			envs = append(envs, domain.Envelope{
				Source: domain.SourceCEIC,
				Kind:   domain.KindQuake,
				Quake:  &quakes[i],
			})
		}
		return envs, nil
	}
	return NewPollConnector(domain.SourceCEIC, interval, 0, poll, emit, clock, logger, metrics)
}

func scrapeQuakeTable(ctx context.Context, client *http.Client, url string, logger *slog.Logger) ([]domain.QuakeEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quake table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch quake table: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse quake table html: %w", err)
	}
	return parseQuakeTable(doc, logger), nil
}

// parseQuakeTable extracts typed rows from the document's first table.
// Rows with an unparsable timestamp or too few cells are dropped silently;
// a broken row must not take down the rest of the feed.
func parseQuakeTable(doc *goquery.Document, logger *slog.Logger) []domain.QuakeEvent {
	var quakes []domain.QuakeEvent
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td").Map(func(_ int, cell *goquery.Selection) string {
			return strings.TrimSpace(cell.Text())
		})
		q, ok := parseQuakeRow(cells)
		if !ok {
			logger.Debug("dropping unparsable table row", "cells", len(cells))
			return
		}
		quakes = append(quakes, q)
	})
	return quakes
}

func parseQuakeRow(cells []string) (domain.QuakeEvent, bool) {
	if len(cells) < quakeTableColumns {
		return domain.QuakeEvent{}, false
	}

	t, err := time.Parse(scrapeTimeLayout, cells[colTime])
	if err != nil {
		return domain.QuakeEvent{}, false
	}

	lat, err := parseHemisphere(cells[colLatitude], "N", "S")
	if err != nil {
		return domain.QuakeEvent{}, false
	}
	lon, err := parseHemisphere(cells[colLongitude], "E", "W")
	if err != nil {
		return domain.QuakeEvent{}, false
	}

	magnitude, _ := strconv.ParseFloat(cells[colMagnitude], 64)
	depth, _ := strconv.ParseFloat(cells[colDepth], 64)

	return domain.QuakeEvent{
		Source:    domain.SourceCEIC,
		Time:      t,
		Place:     cells[colLocation],
		Lat:       lat,
		Lon:       lon,
		DepthKm:   depth,
		Magnitude: magnitude,
		// The table reports a textual intensity scale, never a numeric code.
		MaxIntensity: domain.IntensityUnknown,
		Comment:      cells[colIntensityText],
	}, true
}

// parseHemisphere parses a coordinate with a trailing hemisphere letter,
// e.g. "23.5N" or "121.2W". The southern/western letter inverts the sign.
func parseHemisphere(s, positive, negative string) (float64, error) {
	s = strings.TrimSpace(s)
	sign := 1.0
	switch {
	case strings.HasSuffix(s, positive):
		s = strings.TrimSuffix(s, positive)
	case strings.HasSuffix(s, negative):
		s = strings.TrimSuffix(s, negative)
		sign = -1.0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("coordinate %q: %w", s, err)
	}
	return sign * v, nil
}
