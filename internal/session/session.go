// Package session owns the game state machine. It routes every player
// action to the active backend, keeps the inventory in step with the
// scenes the backend produces, and moves whole sessions in and out of the
// save store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/inventory"
	"github.com/tatianab/storyloom/internal/metrics"
	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/saves"
)

var (
	ErrBusy      = errors.New("another action is still in progress")
	ErrNoSession = errors.New("no game in progress")
	ErrGameOver  = errors.New("the story has ended")
)

// ProviderSwitch selects the active backend. It is read on every
// operation, never cached.
type ProviderSwitch interface {
	Active() models.Provider
	SetActive(models.Provider) error
}

// Phase is the state of the session as seen by the player.
type Phase int

const (
	PhaseNoSession Phase = iota
	PhaseLoading
	PhaseAwaitingChoice
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseNoSession:
		return "no_session"
	case PhaseLoading:
		return "loading"
	case PhaseAwaitingChoice:
		return "awaiting_choice"
	case PhaseGameOver:
		return "game_over"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(text []byte) error {
	for q := PhaseNoSession; q <= PhaseGameOver; q++ {
		if q.String() == string(text) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

type Options struct {
	Services  []engine.Service
	Switch    ProviderSwitch
	Saves     *saves.Store
	Inventory *inventory.Inventory
	Metrics   *metrics.Recorder
	Log       zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Controller struct {
	services map[models.Provider]engine.Service
	order    []engine.Service
	sw       ProviderSwitch
	saves    *saves.Store
	inv      *inventory.Inventory
	metrics  *metrics.Recorder
	log      zerolog.Logger
	now      func() time.Time

	busy *semaphore.Weighted

	mu         sync.Mutex
	config     *models.GameConfig
	reconciled int
	epoch      uint64
	cancel     context.CancelFunc
}

func New(opts Options) (*Controller, error) {
	if len(opts.Services) == 0 {
		return nil, errors.New("session: no backends configured")
	}
	if opts.Switch == nil || opts.Saves == nil {
		return nil, errors.New("session: provider switch and save store are required")
	}
	c := &Controller{
		services:   make(map[models.Provider]engine.Service, len(opts.Services)),
		order:      opts.Services,
		sw:         opts.Switch,
		saves:      opts.Saves,
		inv:        opts.Inventory,
		metrics:    opts.Metrics,
		log:        opts.Log.With().Str("component", "session").Logger(),
		now:        opts.Now,
		busy:       semaphore.NewWeighted(1),
		reconciled: -1,
	}
	if c.inv == nil {
		c.inv = inventory.New(opts.Log)
	}
	if c.now == nil {
		c.now = time.Now
	}
	for _, svc := range opts.Services {
		c.services[svc.Provider()] = svc
	}
	return c, nil
}

func (c *Controller) active() (engine.Service, error) {
	p := c.sw.Active()
	svc, ok := c.services[p]
	if !ok {
		return nil, fmt.Errorf("no backend configured for provider %q", p)
	}
	return svc, nil
}

// Provider returns the active provider.
func (c *Controller) Provider() models.Provider { return c.sw.Active() }

// SwitchProvider makes p the active provider for later operations. The
// session held by the previous provider stays until Start or Load.
func (c *Controller) SwitchProvider(p models.Provider) error {
	if _, ok := c.services[p]; !ok {
		return fmt.Errorf("no backend configured for provider %q", p)
	}
	return c.sw.SetActive(p)
}

func (c *Controller) acquire(op string) error {
	if !c.busy.TryAcquire(1) {
		c.log.Debug().Str("op", op).Msg("rejected, session busy")
		c.metrics.Turn(string(c.sw.Active()), op, metrics.OutcomeRejected, 0)
		return ErrBusy
	}
	return nil
}

// beginTurn derives a cancellable context for one upstream turn so that
// Quit can abort it. setup runs under the same lock that reads the epoch.
func (c *Controller) beginTurn(ctx context.Context, setup func()) (context.Context, uint64, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	epoch := c.epoch
	if setup != nil {
		setup()
	}
	c.mu.Unlock()
	return ctx, epoch, func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}
}

// GenerateWorldSetting expands a sketched world with the active backend.
// It does not touch the session.
func (c *Controller) GenerateWorldSetting(ctx context.Context, req models.WorldSettingRequest) (models.WorldSetting, error) {
	svc, err := c.active()
	if err != nil {
		return models.WorldSetting{}, err
	}
	return svc.GenerateWorldSetting(ctx, req)
}

// Start begins a new story. Inventory and any other backend's session are
// cleared first.
func (c *Controller) Start(ctx context.Context, cfg models.GameConfig) error {
	if err := c.acquire("start"); err != nil {
		return err
	}
	defer c.busy.Release(1)

	svc, err := c.active()
	if err != nil {
		return err
	}
	c.resetOthers(svc)
	c.inv.Reset()

	turnCtx, epoch, done := c.beginTurn(ctx, func() {
		c.config = &cfg
		c.reconciled = -1
	})
	defer done()

	started := c.now()
	if err := svc.StartGame(turnCtx, cfg); err != nil {
		return err
	}
	c.afterTurn(svc, epoch, engine.AttemptStart, started)
	return nil
}

// Choose sends the player's choice for the newest scene.
func (c *Controller) Choose(ctx context.Context, opt models.GameOption) error {
	if strings.TrimSpace(opt.Action) == "" {
		return errors.New("option has no action")
	}
	if err := c.acquire("choice"); err != nil {
		return err
	}
	defer c.busy.Release(1)

	svc, err := c.active()
	if err != nil {
		return err
	}
	last, ok := svc.State().Snapshot().LastScene()
	switch {
	case !ok:
		return ErrNoSession
	case last.IsGameOver:
		return ErrGameOver
	}

	turnCtx, epoch, done := c.beginTurn(ctx, nil)
	defer done()

	started := c.now()
	if err := svc.MakeChoice(turnCtx, opt, c.inv.Context()); err != nil {
		if errors.Is(err, engine.ErrNoContext) {
			return ErrNoSession
		}
		return err
	}
	c.afterTurn(svc, epoch, engine.AttemptChoice, started)
	return nil
}

// ChooseCustom sends free text typed by the player as an action.
func (c *Controller) ChooseCustom(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("custom action is empty")
	}
	return c.Choose(ctx, models.CustomOption(text))
}

// Retry replays the last failed turn. Backends that cannot retry make this
// a logged no-op.
func (c *Controller) Retry(ctx context.Context) error {
	if err := c.acquire("retry"); err != nil {
		return err
	}
	defer c.busy.Release(1)

	svc, err := c.active()
	if err != nil {
		return err
	}
	r, ok := svc.(engine.Retrier)
	if !ok {
		c.log.Warn().Str("provider", string(svc.Provider())).Msg("backend cannot retry, ignoring")
		return nil
	}
	attempt := svc.State().Snapshot().LastAttempt
	if attempt == nil || !attempt.Failed {
		c.log.Debug().Msg("nothing to retry")
		return nil
	}

	turnCtx, epoch, done := c.beginTurn(ctx, nil)
	defer done()

	started := c.now()
	if err := r.RetryLastAction(turnCtx, c.inv.Context()); err != nil {
		return err
	}
	c.afterTurn(svc, epoch, attempt.Kind, started)
	return nil
}

func (c *Controller) afterTurn(svc engine.Service, epoch uint64, kind engine.AttemptKind, started time.Time) {
	snap := svc.State().Snapshot()
	c.mu.Lock()
	stale := epoch != c.epoch
	c.mu.Unlock()
	outcome := metrics.OutcomeOK
	if snap.Error != "" || stale {
		outcome = metrics.OutcomeFailed
	}
	c.metrics.Turn(string(svc.Provider()), kind.String(), outcome, c.now().Sub(started))
	if stale {
		// Quit landed mid-turn; drop whatever the backend recorded since.
		svc.Reset()
		return
	}
	if outcome == metrics.OutcomeOK {
		c.reconcile(epoch, snap.History)
	}
}

// reconcile applies inventory effects of every scene not yet seen. Pending
// discards are confirmed once for each new scene after the first.
func (c *Controller) reconcile(epoch uint64, history []models.GameScene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}

	granted, discarded := 0, 0
	for i := c.reconciled + 1; i < len(history); i++ {
		if i > 0 {
			discarded += len(c.inv.ConfirmPendingDiscards())
		}
		granted += c.inv.Grant(history[i].GrantedItems)
		c.reconciled = i
	}
	c.metrics.Items(granted, discarded)
}

// Save writes the session to a new slot.
func (c *Controller) Save(ctx context.Context) (models.SaveSlotMeta, error) {
	if err := c.acquire("save"); err != nil {
		return models.SaveSlotMeta{}, err
	}
	defer c.busy.Release(1)

	meta, err := c.write(ctx, saves.NewID())
	c.metrics.SaveOp("save", err)
	return meta, err
}

// Overwrite replaces an existing slot with the current session.
func (c *Controller) Overwrite(ctx context.Context, id string) (models.SaveSlotMeta, error) {
	if err := c.acquire("overwrite"); err != nil {
		return models.SaveSlotMeta{}, err
	}
	defer c.busy.Release(1)

	exists, err := c.saves.Exists(ctx, id)
	if err != nil {
		return models.SaveSlotMeta{}, err
	}
	if !exists {
		return models.SaveSlotMeta{}, saves.ErrSaveNotFound
	}
	meta, err := c.write(ctx, id)
	c.metrics.SaveOp("overwrite", err)
	return meta, err
}

// write snapshots the active backend at call time.
func (c *Controller) write(ctx context.Context, id string) (models.SaveSlotMeta, error) {
	svc, err := c.active()
	if err != nil {
		return models.SaveSlotMeta{}, err
	}
	history := svc.State().Snapshot().History
	c.mu.Lock()
	cfg := c.config
	c.mu.Unlock()
	if len(history) == 0 || cfg == nil {
		return models.SaveSlotMeta{}, ErrNoSession
	}
	chat, err := svc.GetContext(ctx)
	if errors.Is(err, engine.ErrNoContext) {
		return models.SaveSlotMeta{}, ErrNoSession
	}
	if err != nil {
		return models.SaveSlotMeta{}, err
	}

	slot := models.SaveSlot{
		SaveSlotMeta: models.SaveSlotMeta{
			ID:        id,
			Timestamp: c.now().UnixMilli(),
			Summary:   saves.Summarize(history),
			Provider:  svc.Provider(),
		},
		GameConfig:   *cfg,
		SceneHistory: history,
		ChatContext:  chat,
		Inventory:    c.inv.Export(),
	}
	if err := c.saves.Save(ctx, slot); err != nil {
		return models.SaveSlotMeta{}, err
	}
	return slot.SaveSlotMeta, nil
}

// Load restores a saved session, switching the active provider to the
// one that wrote it. Nothing changes unless the slot restores cleanly.
func (c *Controller) Load(ctx context.Context, id string) error {
	if err := c.acquire("load"); err != nil {
		return err
	}
	defer c.busy.Release(1)

	err := c.load(ctx, id)
	c.metrics.SaveOp("load", err)
	return err
}

func (c *Controller) load(ctx context.Context, id string) error {
	slot, err := c.saves.Load(ctx, id)
	if err != nil {
		return err
	}
	svc, ok := c.services[slot.Provider]
	if !ok {
		return fmt.Errorf("save %s needs provider %q, which is not configured", id, slot.Provider)
	}
	if err := svc.RestoreSession(slot.SceneHistory, slot.ChatContext, slot.GameConfig); err != nil {
		return &saves.SaveCorruptError{ID: id, Reason: "chat context cannot be restored", Err: err}
	}

	if c.sw.Active() != slot.Provider {
		c.log.Info().Str("from", string(c.sw.Active())).Str("to", string(slot.Provider)).Msg("switching provider for loaded save")
		if err := c.sw.SetActive(slot.Provider); err != nil {
			c.log.Warn().Err(err).Msg("could not persist provider switch")
		}
	}
	c.resetOthers(svc)

	cfg := slot.GameConfig
	c.mu.Lock()
	c.epoch++
	c.config = &cfg
	c.reconciled = len(slot.SceneHistory) - 1
	c.mu.Unlock()
	c.inv.Restore(slot.Inventory)

	c.log.Info().Str("id", id).Int("scenes", len(slot.SceneHistory)).Msg("save loaded")
	return nil
}

// Quit ends the session on every backend. A turn in flight is cancelled
// and its result discarded.
func (c *Controller) Quit() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.epoch++
	c.config = nil
	c.reconciled = -1
	c.mu.Unlock()

	for _, svc := range c.order {
		svc.Reset()
	}
	c.inv.Reset()
	c.log.Info().Msg("session ended")
}

func (c *Controller) resetOthers(keep engine.Service) {
	for _, svc := range c.order {
		if svc != keep {
			svc.Reset()
		}
	}
}

// ToggleFavorite flips an item's favorite flag.
func (c *Controller) ToggleFavorite(id string) bool {
	return c.inv.ToggleFavorite(id)
}

// TogglePendingDiscard flips an item's discard flag.
func (c *Controller) TogglePendingDiscard(id string) bool {
	return c.inv.TogglePendingDiscard(id)
}

func (c *Controller) ListSaves(ctx context.Context) (saves.Listing, error) {
	listing, err := c.saves.List(ctx)
	if err == nil {
		c.metrics.Corrupted(len(listing.Corrupted))
	}
	return listing, err
}

func (c *Controller) DeleteSave(ctx context.Context, id string) error {
	err := c.saves.Delete(ctx, id)
	c.metrics.SaveOp("delete", err)
	return err
}
