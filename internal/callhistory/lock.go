package callhistory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/cache"
)

// acquireEndLock attempts the set-if-absent distributed lock guarding a
// call's finalization (spec.md §5 "Distributed end-lock"). Returns the
// opaque token to release with on success, or ok=false if another
// finalizer already holds it.
func (c *Core) acquireEndLock(ctx context.Context, callID string) (token []byte, ok bool, err error) {
	token = []byte(uuid.New().String())
	ok, err = c.cache.SetNX(ctx, endLockKey(callID), token, c.cfg.EndLockTTL)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "failed to acquire call end-lock", err)
	}
	return token, ok, nil
}

// releaseEndLock releases the end-lock only if token still matches the
// stored value, so a finalizer that overran its own TTL never deletes a
// lock it no longer owns.
func (c *Core) releaseEndLock(ctx context.Context, callID string, token []byte) {
	if _, err := c.cache.CompareAndDelete(ctx, endLockKey(callID), token); err != nil {
		c.log.Error("callhistory: failed to release call end-lock", "error", err, "call_id", callID)
	}
}

// waitForResult polls the finalization-result cache for up to
// EndLockWait, used by a racer that lost the end-lock to observe the
// winner's outcome instead of erroring (spec.md §5 "Concurrent end:
// both callers observe the same result").
func (c *Core) waitForResult(ctx context.Context, callID string) (*Result, error) {
	deadline := c.clock.Now().Add(c.cfg.EndLockWait)
	const pollInterval = 100 * time.Millisecond

	for {
		result, err := c.cachedResult(ctx, callID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return nil, err
		}
		if c.clock.Now().After(deadline) {
			return nil, apperr.New(apperr.Timeout, "timed out waiting for concurrent call finalization")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *Core) cachedResult(ctx context.Context, callID string) (*Result, error) {
	raw, err := c.cache.Get(ctx, resultKey(callID))
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to decode cached call result", err)
	}
	return &result, nil
}

func (c *Core) cacheResult(ctx context.Context, result Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.log.Error("callhistory: failed to encode call result", "error", err, "call_id", result.CallID)
		return
	}
	if err := c.cache.Set(ctx, resultKey(result.CallID), raw, c.cfg.ResultTTL); err != nil {
		c.log.Error("callhistory: failed to cache call result", "error", err, "call_id", result.CallID)
	}
}
