package v1

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jhjames1/leap-grit-forge-sub004/app/store"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/safe"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// CalendarProvider computes a specialist's availability for "now" from their
// calendar. External collaborator, injected.
type CalendarProvider interface {
	Availability(ctx context.Context, specialistID string) (types.CalendarAvailability, error)
}

const (
	DefaultPresenceTick     = 60 * time.Second
	DefaultCalendarDebounce = 500 * time.Millisecond
	DefaultWriteDebounce    = time.Second
)

type PresenceResolverConfig struct {
	Tick             time.Duration
	CalendarDebounce time.Duration
	WriteDebounce    time.Duration
}

func (c *PresenceResolverConfig) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = DefaultPresenceTick
	}
	if c.CalendarDebounce <= 0 {
		c.CalendarDebounce = DefaultCalendarDebounce
	}
	if c.WriteDebounce <= 0 {
		c.WriteDebounce = DefaultWriteDebounce
	}
}

// PresenceResolver owns the effective presence of specialists. One actor
// goroutine per specialist serializes every recompute, so there is exactly
// one writer per presence row. Precedence: manual override, then calendar
// when the specialist is calendar-controlled, then offline.
type PresenceResolver struct {
	statuses store.SpecialistStatusStore
	calendar CalendarProvider
	cfg      PresenceResolverConfig

	// onWrite observes persisted writes, used for metrics.
	onWrite func(source types.PresenceSource)

	mu     sync.Mutex
	actors map[string]*presenceActor
	closed bool
}

func NewPresenceResolver(statuses store.SpecialistStatusStore, calendar CalendarProvider, cfg PresenceResolverConfig, onWrite func(source types.PresenceSource)) *PresenceResolver {
	cfg.applyDefaults()
	if onWrite == nil {
		onWrite = func(types.PresenceSource) {}
	}
	return &PresenceResolver{
		statuses: statuses,
		calendar: calendar,
		cfg:      cfg,
		onWrite:  onWrite,
		actors:   make(map[string]*presenceActor),
	}
}

type presenceCommand struct {
	kind       string // recompute | manual | clear_manual | calendar_controlled
	manual     types.PresenceStatus
	message    string
	controlled bool
	done       chan error
}

type presenceActor struct {
	resolver     *PresenceResolver
	specialistID string

	commands chan presenceCommand
	stop     chan struct{}
	stopped  chan struct{}

	limiter *rate.Limiter

	// actor-goroutine-only state
	manualSet          bool
	manualStatus       types.PresenceStatus
	manualMessage      string
	calendarControlled bool
	lastWritten        *types.SpecialistStatus

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

func (r *PresenceResolver) actor(specialistID string) *presenceActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	a, ok := r.actors[specialistID]
	if !ok {
		a = &presenceActor{
			resolver:     r,
			specialistID: specialistID,
			commands:     make(chan presenceCommand, 64),
			stop:         make(chan struct{}),
			stopped:      make(chan struct{}),
			limiter:      rate.NewLimiter(rate.Every(r.cfg.WriteDebounce), 1),
		}
		r.actors[specialistID] = a
		safe.Go("presence-actor-"+specialistID, a.run)
	}
	return a
}

func (a *presenceActor) run() {
	defer close(a.stopped)

	a.restore()

	for {
		select {
		case <-a.stop:
			return
		case cmd := <-a.commands:
			cmds := []presenceCommand{cmd}
			// coalesce whatever queued up behind this command, one
			// recompute covers all of them
		drain:
			for {
				select {
				case more := <-a.commands:
					cmds = append(cmds, more)
				default:
					break drain
				}
			}

			for _, c := range cmds {
				a.apply(c)
			}
			err := a.recompute()
			for _, c := range cmds {
				if c.done != nil {
					c.done <- err
				}
			}
		}
	}
}

// restore seeds actor state from the persisted row so a manual override
// survives restarts.
func (a *presenceActor) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	persisted, err := a.resolver.statuses.Get(ctx, a.specialistID)
	if err != nil {
		slog.Warn("failed to restore presence state",
			slog.String("specialist_id", a.specialistID),
			slog.String("error", err.Error()))
		return
	}
	if persisted == nil {
		return
	}
	a.lastWritten = persisted
	a.calendarControlled = persisted.Metadata.CalendarControlled
	if persisted.Metadata.Source == types.PRESENCE_SOURCE_MANUAL {
		a.manualSet = true
		a.manualStatus = persisted.Status
		a.manualMessage = persisted.StatusMessage
	}
}

func (a *presenceActor) apply(cmd presenceCommand) {
	switch cmd.kind {
	case "manual":
		a.manualSet = true
		a.manualStatus = cmd.manual
		a.manualMessage = cmd.message
	case "clear_manual":
		a.manualSet = false
		a.manualMessage = ""
	case "calendar_controlled":
		a.calendarControlled = cmd.controlled
	}
}

// recompute resolves the effective status and persists it when it differs
// from the last written row.
func (a *presenceActor) recompute() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().Unix()
	next := types.SpecialistStatus{
		SpecialistID: a.specialistID,
		Status:       types.PRESENCE_STATUS_OFFLINE,
		LastSeen:     now,
		Metadata: types.PresenceMetadata{
			Source:             types.PRESENCE_SOURCE_DEFAULT,
			CalendarControlled: a.calendarControlled,
			CheckedAt:          now,
		},
	}

	switch {
	case a.manualSet:
		next.Status = a.manualStatus
		next.StatusMessage = a.manualMessage
		next.Metadata.Source = types.PRESENCE_SOURCE_MANUAL
	case a.calendarControlled:
		availability, err := a.resolver.calendar.Availability(ctx, a.specialistID)
		if err != nil {
			slog.Warn("calendar availability check failed, keeping previous status",
				slog.String("specialist_id", a.specialistID),
				slog.String("error", err.Error()))
			return nil
		}
		next.Status = availability.Status
		next.Metadata.Source = types.PRESENCE_SOURCE_CALENDAR
		next.Metadata.CalendarReason = availability.Reason
	}

	if a.lastWritten != nil && presenceUnchanged(*a.lastWritten, next) {
		return nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.resolver.statuses.Upsert(ctx, next); err != nil {
		slog.Error("failed to persist presence",
			slog.String("specialist_id", a.specialistID),
			slog.String("error", err.Error()))
		return err
	}
	a.lastWritten = &next
	a.resolver.onWrite(next.Metadata.Source)
	return nil
}

// presenceUnchanged ignores timestamps; only user-visible fields count.
func presenceUnchanged(prev, next types.SpecialistStatus) bool {
	return prev.Status == next.Status &&
		prev.StatusMessage == next.StatusMessage &&
		prev.Metadata.Source == next.Metadata.Source &&
		prev.Metadata.CalendarControlled == next.Metadata.CalendarControlled &&
		prev.Metadata.CalendarReason == next.Metadata.CalendarReason
}

func (a *presenceActor) send(cmd presenceCommand) error {
	select {
	case a.commands <- cmd:
	case <-a.stop:
		return nil
	}
	if cmd.done != nil {
		select {
		case err := <-cmd.done:
			return err
		case <-a.stop:
		}
	}
	return nil
}

// SetManualStatus pins the specialist's presence. It wins over calendar and
// default resolution until cleared.
func (r *PresenceResolver) SetManualStatus(specialistID string, status types.PresenceStatus, message string) error {
	a := r.actor(specialistID)
	if a == nil {
		return nil
	}
	return a.send(presenceCommand{kind: "manual", manual: status, message: message, done: make(chan error, 1)})
}

// ClearManualStatus removes the override, dropping resolution back to
// calendar or default.
func (r *PresenceResolver) ClearManualStatus(specialistID string) error {
	a := r.actor(specialistID)
	if a == nil {
		return nil
	}
	return a.send(presenceCommand{kind: "clear_manual", done: make(chan error, 1)})
}

// SetCalendarControlled toggles whether the calendar drives this
// specialist's presence.
func (r *PresenceResolver) SetCalendarControlled(specialistID string, controlled bool) error {
	a := r.actor(specialistID)
	if a == nil {
		return nil
	}
	return a.send(presenceCommand{kind: "calendar_controlled", controlled: controlled, done: make(chan error, 1)})
}

// NotifyCalendarChanged schedules a recompute after a short batching
// debounce; bursts of calendar writes collapse into one resolution.
func (r *PresenceResolver) NotifyCalendarChanged(specialistID string) {
	a := r.actor(specialistID)
	if a == nil {
		return
	}

	a.debounceMu.Lock()
	defer a.debounceMu.Unlock()
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	a.debounceTimer = time.AfterFunc(r.cfg.CalendarDebounce, func() {
		_ = a.send(presenceCommand{kind: "recompute"})
	})
}

// Recompute triggers an immediate resolution for one specialist.
func (r *PresenceResolver) Recompute(specialistID string) error {
	a := r.actor(specialistID)
	if a == nil {
		return nil
	}
	return a.send(presenceCommand{kind: "recompute", done: make(chan error, 1)})
}

// Tick re-resolves every known specialist. Wired to the cron process host.
// Persisted rows are swept alongside in-memory actors: after a restart no
// actor exists yet, but a calendar-controlled specialist's status still has
// to flip at working-hours boundaries, and rows a crashed process left
// online are healed here.
func (r *PresenceResolver) Tick() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	ids := make(map[string]struct{}, len(r.actors))
	for id := range r.actors {
		ids[id] = struct{}{}
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const pageSize = uint64(200)
	for page := uint64(1); ; page++ {
		rows, err := r.statuses.List(ctx, page, pageSize)
		if err != nil {
			slog.Warn("presence tick sweep failed", slog.String("error", err.Error()))
			break
		}
		for _, row := range rows {
			ids[row.SpecialistID] = struct{}{}
		}
		if uint64(len(rows)) < pageSize {
			break
		}
	}

	for id := range ids {
		if a := r.actor(id); a != nil {
			_ = a.send(presenceCommand{kind: "recompute"})
		}
	}
}

// TickInterval exposes the configured cadence for the cron host.
func (r *PresenceResolver) TickInterval() time.Duration {
	return r.cfg.Tick
}

// Status reads the persisted presence row.
func (r *PresenceResolver) Status(ctx context.Context, specialistID string) (*types.SpecialistStatus, error) {
	return r.statuses.Get(ctx, specialistID)
}

// Shutdown stops every actor after a best-effort offline write. Presence
// rows left online by a crash are healed by the next process's tick.
func (r *PresenceResolver) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	actors := make([]*presenceActor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	now := time.Now().Unix()
	for _, a := range actors {
		close(a.stop)
		<-a.stopped

		a.debounceMu.Lock()
		if a.debounceTimer != nil {
			a.debounceTimer.Stop()
		}
		a.debounceMu.Unlock()

		// actor goroutine is gone, safe to write directly
		if err := r.statuses.Upsert(ctx, types.SpecialistStatus{
			SpecialistID: a.specialistID,
			Status:       types.PRESENCE_STATUS_OFFLINE,
			LastSeen:     now,
			Metadata: types.PresenceMetadata{
				Source:             types.PRESENCE_SOURCE_DEFAULT,
				CalendarControlled: a.calendarControlled,
				CheckedAt:          now,
			},
		}); err != nil {
			slog.Warn("failed to write offline presence on shutdown",
				slog.String("specialist_id", a.specialistID),
				slog.String("error", err.Error()))
		}
	}
}
