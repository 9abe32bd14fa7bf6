package session

import (
	"context"
	"fmt"
	"time"

	"kaioken/internal/logging"
	"kaioken/internal/types"
)

// RateLimitPollInterval is the fixed poll cadence named in spec §5.
const RateLimitPollInterval = 60 * time.Second

// nearLimitFraction is the threshold above which a snapshot is surfaced to
// the user as a Warning rather than silently recorded (spec §4.11: "a
// rate-limit snapshot may trigger a warning").
const nearLimitFraction = 0.9

// PollFunc fetches a fresh rate-limit snapshot from whatever client the
// turn engine is wired to. Its transport is out of scope here (spec §1
// Non-goals: "HTTP transport to model providers").
type PollFunc func(ctx context.Context) (RateLimitSnapshot, error)

// StartRateLimitPoller runs one task per session at a 60-second interval
// (spec §5), recording every snapshot on the session and emitting a
// Warning event when usage crosses nearLimitFraction of either limit. It
// returns a cancel function that stops the poller; the session's owner
// must call it when the session ends.
func StartRateLimitPoller(ctx context.Context, s *Session, poll PollFunc) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(RateLimitPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := poll(ctx)
				if err != nil {
					logging.Get(logging.CategorySession).Warn("session %s: rate-limit poll failed: %v", s.ID(), err)
					continue
				}
				snap.PolledAt = time.Now()
				s.SetRateLimit(snap)
				if nearLimit(snap) {
					s.SendEvent(types.Event{
						Kind: types.EventWarning,
						Payload: fmt.Sprintf("approaching rate limit: %d/%d requests, %d/%d tokens this minute",
							snap.RequestsPerMin, snap.RequestsLimit, snap.TokensPerMin, snap.TokensLimit),
					})
				}
			}
		}
	}()
	return cancel
}

func nearLimit(s RateLimitSnapshot) bool {
	if s.RequestsLimit > 0 && float64(s.RequestsPerMin)/float64(s.RequestsLimit) >= nearLimitFraction {
		return true
	}
	if s.TokensLimit > 0 && float64(s.TokensPerMin)/float64(s.TokensLimit) >= nearLimitFraction {
		return true
	}
	return false
}
