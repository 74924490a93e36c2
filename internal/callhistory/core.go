package callhistory

import (
	"time"

	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/cache"
	"github.com/nyife/rtcore/internal/clock"
	"github.com/nyife/rtcore/internal/eventbus"
	"github.com/nyife/rtcore/internal/events"
	"github.com/nyife/rtcore/internal/models"
)

// Topic names the call-lifecycle events this package publishes
// (spec.md §6 "Cross-system events").
const (
	TopicCallInitiated eventbus.Topic = "call.initiated"
	TopicCallEnded     eventbus.Topic = "call.ended"
)

// EventSource identifies this package as a producer in event Base.Source.
const EventSource = "callhistory"

// Config bundles the call-history core's tunables (spec.md §6 "Cache
// keys" TTLs, §5 lock wait).
type Config struct {
	SessionTTL      time.Duration
	EndLockTTL      time.Duration
	ResultTTL       time.Duration
	MissedViewedTTL time.Duration
	MissedCountTTL  time.Duration
	EndLockWait     time.Duration
	MaxCallDuration time.Duration
}

// Core implements the call-history capability set: starting, updating,
// heart-beating, and finalizing an ActiveCallSession, plus the missed-call
// badge (spec.md §4.2).
type Core struct {
	cache  cache.Cache
	db     *gorm.DB
	bus    *eventbus.Bus
	clock  clock.Clock
	log    logf.Logger
	cfg    Config
}

// New creates a Core.
func New(c cache.Cache, db *gorm.DB, bus *eventbus.Bus, clk clock.Clock, log logf.Logger, cfg Config) *Core {
	return &Core{cache: c, db: db, bus: bus, clock: clk, log: log, cfg: cfg}
}

// Result is the outcome of finalizing a call, returned by EndCall and
// EndGracefully and cached for concurrent racers under resultKey so a
// losing racer on the end-lock observes the same outcome as the winner
// (spec.md §5 "Concurrent end").
type Result struct {
	CallID   string                   `json:"callId"`
	RecordID string                   `json:"recordId"`
	Status   models.CallHistoryStatus `json:"status"`
	Duration int                      `json:"duration"`
}

func (c *Core) newBase(aggregateID, eventType string, version int) events.Base {
	return events.NewBase(c.clock.Now(), EventSource, aggregateID, eventType, version, "")
}

func newCallID() string {
	return uuid.New().String()
}

func wrapConflict(msg string) error { return apperr.New(apperr.Conflict, msg) }
func wrapNotFound(msg string) error { return apperr.New(apperr.NotFound, msg) }
