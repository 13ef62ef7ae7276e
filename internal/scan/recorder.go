// Package scan persists one ScanEvent per successful resolution.
package scan

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jack/qr-redirect-service/internal/geo"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/useragent"
)

// Store is the storage contract the recorder needs.
type Store interface {
	CreateScanEvent(ctx context.Context, event *model.ScanEvent) error
	IncrementScanCount(ctx context.Context, shortCodeID string, at time.Time) error
}

// TxStore writes the event and the counter in one transaction.
type TxStore interface {
	Store
	RecordScan(ctx context.Context, event *model.ScanEvent) error
}

type IDGenerator interface {
	Next() int64
}

// Details is what the request knew about the scan.
type Details struct {
	IP        string
	UserAgent string
	Client    useragent.Info
	Referrer  string
	Location  geo.Location
	ScannedAt time.Time
}

type Recorder struct {
	store  Store
	ids    IDGenerator
	logger zerolog.Logger
}

func NewRecorder(store Store, ids IDGenerator, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		ids:    ids,
		logger: logger.With().Str("component", "scan_recorder").Logger(),
	}
}

// Record stores the event and bumps the code's counter. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, shortCodeID string, d Details) {
	event := r.newEvent(shortCodeID, d)

	if tx, ok := r.store.(TxStore); ok {
		if err := tx.RecordScan(ctx, event); err != nil {
			r.logger.Error().Err(err).Str("short_code_id", shortCodeID).Msg("record scan failed")
		}
		return
	}

	// Event first: a failed increment never removes an already stored event.
	if err := r.store.CreateScanEvent(ctx, event); err != nil {
		r.logger.Error().Err(err).Str("short_code_id", shortCodeID).Msg("create scan event failed")
	}
	if err := r.store.IncrementScanCount(ctx, shortCodeID, event.ScannedAt); err != nil {
		r.logger.Error().Err(err).Str("short_code_id", shortCodeID).Msg("increment scan count failed")
	}
}

func (r *Recorder) newEvent(shortCodeID string, d Details) *model.ScanEvent {
	at := d.ScannedAt
	if at.IsZero() {
		at = time.Now()
	}

	loc := d.Location
	if loc.Country == "" {
		loc.Country = geo.Unknown
	}
	if loc.City == "" {
		loc.City = geo.Unknown
	}

	return &model.ScanEvent{
		ID:          r.ids.Next(),
		ShortCodeID: shortCodeID,
		ScannedAt:   at.UTC(),
		IPAddress:   truncate(d.IP, 45),
		UserAgent:   d.UserAgent,
		Device:      string(d.Client.Device),
		Browser:     d.Client.Browser,
		OS:          d.Client.OS,
		Country:     truncate(loc.Country, 128),
		City:        truncate(loc.City, 128),
		Referrer:    d.Referrer,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
