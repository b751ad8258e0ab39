// Rover Link
// Copyright (c) 2026 The Rover Link Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Rover Link.
//
// Rover Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Rover Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Rover Link.  If not, see <http://www.gnu.org/licenses/>.

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/olahol/melody"
	"github.com/roverlink/roverlink/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// HTTPRequestsPerMinute and HTTPBurst bound REST calls per client IP.
	HTTPRequestsPerMinute = 120
	HTTPBurst             = 20

	// WSMessagesPerSecond and WSBurst bound WebSocket messages per client IP.
	// Holding a drive key sends a command on every key repeat, so the limit
	// sits well above typical keyboard repeat rates.
	WSMessagesPerSecond = 30
	WSBurst             = 60

	limiterMaxAge          = 10 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	limiters map[string]*rateLimiterEntry
	limit    rate.Limit
	burst    int
	mu       syncutil.Mutex
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(limit rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		limit:    limit,
		burst:    burst,
	}
}

// NewHTTPRateLimiter returns a limiter with the REST defaults.
func NewHTTPRateLimiter() *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(float64(HTTPRequestsPerMinute)/60.0), HTTPBurst)
}

// NewWebSocketRateLimiter returns a limiter with the WebSocket defaults.
func NewWebSocketRateLimiter() *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(WSMessagesPerSecond), WSBurst)
}

// Burst returns the bucket size handed to new limiters.
func (rl *IPRateLimiter) Burst() int {
	return rl.burst
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Allow takes one token from the bucket of the IP in remoteAddr.
func (rl *IPRateLimiter) Allow(remoteAddr string) bool {
	return rl.GetLimiter(clientKey(remoteAddr)).Allow()
}

// Cleanup forgets clients not seen for maxAge.
func (rl *IPRateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > maxAge {
			delete(rl.limiters, ip)
			log.Debug().Str("ip", ip).Msg("removed stale rate limiter")
		}
	}
}

// Len returns the number of tracked clients.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// StartCleanup prunes stale clients periodically until ctx is cancelled.
func (rl *IPRateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(limiterMaxAge)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func clientKey(remoteAddr string) string {
	if ip := ParseRemoteIP(remoteAddr); ip != nil {
		return ip.String()
	}
	return remoteAddr
}

func HTTPRateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.RemoteAddr) {
				log.Warn().
					Str("ip", clientKey(r.RemoteAddr)).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("HTTP rate limit exceeded")

				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type rateLimitError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

var rateLimitMsg, _ = json.Marshal(rateLimitError{Type: "error", Error: "rate limit exceeded"})

// WebSocketRateLimitHandler drops messages over the limit and tells the
// sender why.
func WebSocketRateLimitHandler(
	limiter *IPRateLimiter,
	handler func(*melody.Session, []byte),
) func(*melody.Session, []byte) {
	return func(session *melody.Session, msg []byte) {
		if !limiter.Allow(session.Request.RemoteAddr) {
			log.Warn().
				Str("ip", clientKey(session.Request.RemoteAddr)).
				Int("msg_size", len(msg)).
				Msg("WebSocket rate limit exceeded")

			if err := session.Write(rateLimitMsg); err != nil {
				log.Error().Err(err).Msg("failed to send rate limit error")
			}
			return
		}

		handler(session, msg)
	}
}
