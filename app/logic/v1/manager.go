package v1

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/changefeed"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
)

// OrchestratorManager hands out one orchestrator per user, building and
// starting it on first use. Owned by the serving process, injected into
// handlers.
type OrchestratorManager struct {
	core *core.Core
	feed *changefeed.Client

	orchestrators cmap.ConcurrentMap[string, *SessionOrchestrator]
}

func NewOrchestratorManager(core *core.Core) *OrchestratorManager {
	return &OrchestratorManager{
		core:          core,
		feed:          changefeed.NewClient(core.FeedSource()),
		orchestrators: cmap.New[*SessionOrchestrator](),
	}
}

func (m *OrchestratorManager) config() OrchestratorConfig {
	sessionCfg := m.core.Cfg().Session
	return OrchestratorConfig{
		ReloadPoll:            sessionCfg.ReloadPoll(),
		DisconnectReloadAfter: sessionCfg.DisconnectReload(),
		RefreshGuard:          sessionCfg.RefreshGuard(),
		Pipeline: PipelineConfig{
			SendTimeout:     sessionCfg.MessageTimeout(),
			ReconcileWindow: sessionCfg.ReconcileWindow(),
			OnReconcile:     m.core.Metrics().ReconcileMatchInc,
			OnTimeout:       m.core.Metrics().MessageTimeoutInc,
		},
	}
}

// ForUser returns the user's orchestrator, creating and starting it when
// absent. Concurrent first calls for one user resolve to a single instance.
func (m *OrchestratorManager) ForUser(ctx context.Context, userID string) (*SessionOrchestrator, error) {
	if o, ok := m.orchestrators.Get(userID); ok {
		return o, nil
	}

	created := NewSessionOrchestrator(userID, m.core.Store(), m.feed, m.config(), nil)
	if !m.orchestrators.SetIfAbsent(userID, created) {
		created.Close()
		o, _ := m.orchestrators.Get(userID)
		return o, nil
	}

	if err := created.Start(ctx); err != nil {
		m.orchestrators.Remove(userID)
		created.Close()
		return nil, errors.Trace("OrchestratorManager.ForUser", err)
	}
	return created, nil
}

// Release drops a user's orchestrator, e.g. when their last connection goes
// away.
func (m *OrchestratorManager) Release(userID string) {
	if o, ok := m.orchestrators.Get(userID); ok {
		m.orchestrators.Remove(userID)
		o.Close()
	}
}

// Close tears down every orchestrator and the shared feed client.
func (m *OrchestratorManager) Close() {
	for item := range m.orchestrators.IterBuffered() {
		item.Val.Close()
	}
	m.orchestrators.Clear()
	m.feed.Close()
}
