package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
)

// FetchHistory performs the one-time bulk load of recent quake reports. The
// history endpoint serves a JSON array of primary-feed messages, so each entry
// goes through the primary decoder; non-quake and malformed entries are
// skipped. Events are retagged as history so the store can tell the seed
// apart from live inserts.
func FetchHistory(ctx context.Context, client *http.Client, url string) ([]domain.QuakeEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history body: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("history body: %w", err)
	}

	events := make([]domain.QuakeEvent, 0, len(raws))
	for _, raw := range raws {
		env, err := DecodePrimary(raw)
		if err != nil || env == nil || env.Kind != domain.KindQuake {
			continue
		}
		q := *env.Quake
		q.Source = domain.SourceHistory
		events = append(events, q)
	}
	return events, nil
}
