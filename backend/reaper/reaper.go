package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/twinlens/twinlens/backend/registry"
)

const (
	DefaultInterval = 600 * time.Second
	DefaultMaxAge   = 86400 * time.Second
)

// Rooms is the registry surface the reaper needs.
type Rooms interface {
	ListAll() []registry.RoomInfo
	Remove(roomID string)
}

// Reaper periodically evicts rooms older than MaxAge, connected or not.
// Eviction is pure registry removal: still-open transports are left alone,
// their sessions just lose the room and every relay becomes a no-op.
type Reaper struct {
	rooms    Rooms
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

type Config struct {
	Logger   *zerolog.Logger
	Rooms    Rooms
	Interval time.Duration
	MaxAge   time.Duration
}

func New(cfg Config) *Reaper {
	r := &Reaper{
		rooms:    cfg.Rooms,
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
		now:      time.Now,
		logger:   cfg.Logger.With().Str("component", "reaper").Logger(),
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.maxAge <= 0 {
		r.maxAge = DefaultMaxAge
	}
	return r
}

// Run sweeps on a fixed interval until the context is canceled.
func (r *Reaper) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		r.logger.Debug().Msg("reaper stopped")
		wg.Done()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one eviction cycle.
func (r *Reaper) Sweep() {
	now := r.now()
	for _, info := range r.rooms.ListAll() {
		age := now.Sub(info.CreatedAt)
		if age <= r.maxAge {
			continue
		}
		r.rooms.Remove(info.ID)
		r.logger.Info().
			Str("roomID", info.ID).
			Dur("age", age).
			Msg("stale room evicted")
	}
}
