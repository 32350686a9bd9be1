// Package history maintains the per-user charge-history snapshot. A snapshot
// is the raw telemetry payload for the user's charge site, stamped with its
// fetch time and considered fresh for a fixed window. Date-range and device
// filtering happen downstream; the cache granularity is one snapshot per
// user.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wallcharge/internal/log"
	"wallcharge/pkg/fleet"
	"wallcharge/pkg/session"
)

// FreshnessWindow is how long a snapshot is served without consulting the
// Fleet API. Expiry is a hard cutoff: an expired snapshot is never returned,
// even when the refresh that replaces it fails.
const FreshnessWindow = 24 * time.Hour

// The telemetry query uses a fixed wide window; narrowing happens during
// aggregation, so one cached payload serves every date range.
const (
	telemetryStart = "2023-01-01T00:00:00-08:00"
	telemetryEnd   = "2029-01-01T00:00:00-08:00"
)

// Snapshot is a user's charge history as of FetchedAt. Payload preserves the
// upstream response verbatim.
type Snapshot struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Events decodes the charge events from the snapshot payload.
func (s *Snapshot) Events() ([]fleet.ChargeRecord, error) {
	var charges fleet.ChargeHistory
	if err := json.Unmarshal(s.Payload, &charges); err != nil {
		return nil, fmt.Errorf("%w: malformed charge history: %s", fleet.ErrFetch, err)
	}
	return charges.ChargeHistory, nil
}

// TokenSource mints access tokens for snapshot refreshes. Satisfied by
// *auth.Client.
type TokenSource interface {
	AccessToken(ctx context.Context, sess *session.Session) (string, error)
}

// Cache loads and refreshes snapshots.
type Cache struct {
	Tokens TokenSource
	// TTL defaults to FreshnessWindow.
	TTL time.Duration
	// Clock defaults to time.Now; injectable for expiry tests.
	Clock     func() time.Time
	UserAgent string
}

func (c *Cache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Cache) ttl() time.Duration {
	if c.TTL != 0 {
		return c.TTL
	}
	return FreshnessWindow
}

func load(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *Snapshot) persist(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(s)
}

// Snapshot returns the user's charge history, refreshing from the Fleet API
// when no fresh snapshot is on disk. Token errors propagate unchanged so
// callers can distinguish "authorization required" from fetch failures. A
// failed refresh leaves any previous (expired) snapshot file in place but
// does not fall back to it.
func (c *Cache) Snapshot(ctx context.Context, sess *session.Session) (*Snapshot, error) {
	if snapshot, err := load(sess.CacheFile); err == nil {
		if age := c.now().Sub(snapshot.FetchedAt); age < c.ttl() {
			return snapshot, nil
		}
		log.Info("Snapshot for %s expired, refreshing", sess.Key)
	} else if !os.IsNotExist(err) {
		// An unreadable snapshot is treated as expired and refetched.
		log.Warning("Discarding unreadable snapshot for %s: %s", sess.Key, err)
	}
	return c.refresh(ctx, sess)
}

func (c *Cache) refresh(ctx context.Context, sess *session.Session) (*Snapshot, error) {
	accessToken, err := c.Tokens.AccessToken(ctx, sess)
	if err != nil {
		return nil, err
	}
	client, err := fleet.New(accessToken, c.UserAgent)
	if err != nil {
		return nil, err
	}

	siteID, err := client.ChargeSite(ctx)
	if err != nil {
		return nil, err
	}
	timezone, err := sess.Timezone()
	if err != nil {
		return nil, err
	}
	payload, err := client.TelemetryHistory(ctx, siteID, fleet.TelemetryWindow{
		StartDate: telemetryStart,
		EndDate:   telemetryEnd,
		TimeZone:  timezone,
	})
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{FetchedAt: c.now(), Payload: payload}
	if err := snapshot.persist(sess.CacheFile); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}
	log.Info("Refreshed snapshot for %s from site %d", sess.Key, siteID)
	return snapshot, nil
}
