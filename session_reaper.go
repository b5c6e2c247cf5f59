package main

import (
	"context"
	"log"
	"time"
)

// SessionReaper closes sessions whose page has gone quiet. A session that
// is never touched again would otherwise hold its EmbedConfig forever.
type SessionReaper struct {
	sessions *sessionRegistry
	interval time.Duration
	idle     time.Duration
}

func NewSessionReaper(sessions *sessionRegistry, interval, idle time.Duration) *SessionReaper {
	return &SessionReaper{
		sessions: sessions,
		interval: interval,
		idle:     idle,
	}
}

func (r *SessionReaper) Start(ctx context.Context) {
	if r.sessions == nil {
		log.Println("Session reaper disabled: no registry")
		return
	}
	if r.idle <= 0 {
		log.Println("Session reaper disabled: SESSION_TTL is not positive")
		return
	}
	if r.interval <= 0 {
		r.interval = 5 * time.Minute
	}
	go r.loop(ctx)
}

func (r *SessionReaper) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.sweep(ctx, time.Now())
	}
}

func (r *SessionReaper) sweep(ctx context.Context, now time.Time) int {
	n := r.sessions.CloseIdle(ctx, now.Add(-r.idle))
	if n > 0 {
		log.Printf("Session reaper: closed %d idle sessions (%d live)", n, r.sessions.Len())
	}
	return n
}
