package session

import (
	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/models"
)

// View is a read-only copy of everything a UI needs to render.
type View struct {
	Phase     Phase                  `json:"phase"`
	Provider  models.Provider        `json:"provider"`
	Config    *models.GameConfig     `json:"config,omitempty"`
	History   []models.GameScene     `json:"history"`
	Error     string                 `json:"error,omitempty"`
	CanRetry  bool                   `json:"canRetry"`
	Inventory []models.InventoryItem `json:"inventory"`
	FreeSlots int                    `json:"freeSlots"`
}

// Current returns the newest scene, if any.
func (v View) Current() (models.GameScene, bool) {
	if len(v.History) == 0 {
		return models.GameScene{}, false
	}
	return v.History[len(v.History)-1], true
}

// View snapshots the active backend and the inventory.
func (c *Controller) View() View {
	v := View{
		Provider:  c.sw.Active(),
		History:   []models.GameScene{},
		Inventory: c.inv.Items(),
		FreeSlots: c.inv.EmptySlots(),
	}
	if v.Inventory == nil {
		v.Inventory = []models.InventoryItem{}
	}
	c.mu.Lock()
	if c.config != nil {
		cfg := *c.config
		v.Config = &cfg
	}
	c.mu.Unlock()

	svc, err := c.active()
	if err != nil {
		v.Error = err.Error()
		return v
	}
	snap := svc.State().Snapshot()
	if snap.History != nil {
		v.History = snap.History
	}
	v.Error = snap.Error
	_, retrier := svc.(engine.Retrier)
	v.CanRetry = retrier && snap.LastAttempt != nil && snap.LastAttempt.Failed && !snap.Loading

	last, ok := snap.LastScene()
	switch {
	case snap.Loading:
		v.Phase = PhaseLoading
	case !ok:
		v.Phase = PhaseNoSession
	case last.IsGameOver:
		v.Phase = PhaseGameOver
	default:
		v.Phase = PhaseAwaitingChoice
	}
	return v
}

// Subscribe calls fn with a fresh View whenever any backend's state
// changes. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(View)) (cancel func()) {
	var cancels []func()
	for _, svc := range c.order {
		cancels = append(cancels, svc.State().Subscribe(func(engine.Snapshot) { fn(c.View()) }))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}
