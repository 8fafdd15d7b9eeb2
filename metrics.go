package main

import (
	"context"
	"log"
	"time"

	"orion/internal/lobby"
	"orion/internal/session"
)

// RunMetrics logs the live session count and the public lobby count every
// interval until ctx is canceled. Nothing is logged while no session is
// live.
func RunMetrics(ctx context.Context, sessions *session.Registry, lobbies *lobby.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessionCount := sessions.Count()
			publicLobbies := len(lobbies.ListPublic())
			if sessionCount > 0 {
				log.Printf("[metrics] sessions=%d public_lobbies=%d", sessionCount, publicLobbies)
			}
		}
	}
}
