package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	v1 "github.com/jhjames1/leap-grit-forge-sub004/app/logic/v1"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// Process hosts the periodic work of the serving node: presence re-resolution
// and the stale waiting-session sweep.
type Process struct {
	cron     *cron.Cron
	core     *core.Core
	presence *v1.PresenceResolver
}

func NewProcess(core *core.Core, presence *v1.PresenceResolver) *Process {
	return &Process{
		cron:     cron.New(),
		core:     core,
		presence: presence,
	}
}

func (p *Process) Cron() *cron.Cron {
	return p.cron
}

func (p *Process) Core() *core.Core {
	return p.core
}

func (p *Process) Start() error {
	tick := p.presence.TickInterval()
	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", tick), p.presence.Tick); err != nil {
		return err
	}
	if _, err := p.cron.AddFunc("@every 1m", p.sweepStaleSessions); err != nil {
		return err
	}

	p.cron.Start()
	return nil
}

func (p *Process) Stop() {
	if p.cron != nil {
		ctx := p.cron.Stop()
		<-ctx.Done()
	}
}

// sweepStaleSessions surfaces waiting sessions nobody claimed within the
// stale window. Stale is a signal for operators and the UI; the session is
// never transitioned automatically.
func (p *Process) sweepStaleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cutoff := time.Now().Unix() - types.StaleAfterSeconds
	sessions, err := p.core.Store().SupportSessionStore().ListWaitingBefore(ctx, cutoff)
	if err != nil {
		slog.Error("stale session sweep failed", slog.String("error", err.Error()))
		return
	}

	stale := 0
	for _, session := range sessions {
		if session.SpecialistID != nil {
			continue
		}
		stale++
		slog.Warn("session waiting past stale window",
			slog.String("session_id", session.ID),
			slog.String("user_id", session.UserID),
			slog.Int64("started_at", session.StartedAt))
	}
	p.core.Metrics().SetStaleSessions(float64(stale))
}
