// Package enginetest provides an in-memory engine.Service for tests.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/models"
)

// Scene returns a valid scene whose narrative names n.
func Scene(n int) models.GameScene {
	return models.GameScene{
		Narrative:       fmt.Sprintf("第%d幕", n),
		CurrentLocation: "测试场",
		CurrentTime:     "正午",
		Options: []models.GameOption{
			{Label: "前进", Action: "我向前走"},
			{Label: "后退", Action: "我退后一步"},
			{Label: "等待", Action: "我静静等待"},
		},
	}
}

// Fake is a scripted backend. Its native context is the list of messages
// it has accepted.
type Fake struct {
	// Respond produces the scene for a turn. When nil the fake answers
	// with Scene(len(history)).
	Respond func(ctx context.Context, a engine.Attempt) (models.GameScene, error)
	// World is returned by GenerateWorldSetting.
	World models.WorldSetting

	provider models.Provider
	state    *engine.State

	mu       sync.Mutex
	active   bool
	messages []string
	config   models.GameConfig
	turns    int
}

var (
	_ engine.Service = (*Fake)(nil)
	_ engine.Retrier = (*Fake)(nil)
)

func New(p models.Provider) *Fake {
	return &Fake{provider: p, state: engine.NewState()}
}

// WithoutRetry hides RetryLastAction.
func WithoutRetry(s engine.Service) engine.Service {
	return struct{ engine.Service }{s}
}

func (f *Fake) Provider() models.Provider { return f.provider }

func (f *Fake) State() *engine.State { return f.state }

// Turns is the number of upstream turns attempted.
func (f *Fake) Turns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns
}

// Config is the configuration of the current conversation.
func (f *Fake) Config() models.GameConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

func (f *Fake) GenerateWorldSetting(ctx context.Context, req models.WorldSettingRequest) (models.WorldSetting, error) {
	if err := ctx.Err(); err != nil {
		return models.WorldSetting{}, &engine.GenerationError{Err: err}
	}
	return f.World, nil
}

func (f *Fake) StartGame(ctx context.Context, cfg models.GameConfig) error {
	t, err := f.state.BeginStart(cfg)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.active = true
	f.messages = nil
	f.config = cfg
	f.mu.Unlock()
	f.run(ctx, t, engine.Attempt{Kind: engine.AttemptStart, Config: cfg}, "start")
	return nil
}

func (f *Fake) MakeChoice(ctx context.Context, opt models.GameOption, inv *models.InventoryContext) error {
	f.mu.Lock()
	active := f.active
	f.mu.Unlock()
	if !active {
		return engine.ErrNoContext
	}
	t, err := f.state.BeginChoice(opt, inv)
	if err != nil {
		return err
	}
	f.run(ctx, t, engine.Attempt{Kind: engine.AttemptChoice, Option: opt, Inventory: inv}, opt.Action)
	return nil
}

func (f *Fake) RetryLastAction(ctx context.Context, inv *models.InventoryContext) error {
	a, t, ok, err := f.state.BeginRetry(inv)
	if err != nil || !ok {
		return err
	}
	msg := "start"
	if a.Kind == engine.AttemptChoice {
		msg = a.Option.Action
	}
	f.run(ctx, t, a, msg)
	return nil
}

func (f *Fake) run(ctx context.Context, t engine.Ticket, a engine.Attempt, msg string) {
	f.mu.Lock()
	f.turns++
	f.mu.Unlock()

	var scene models.GameScene
	var err error
	if f.Respond != nil {
		scene, err = f.Respond(ctx, a)
	} else {
		scene = Scene(f.state.Len())
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		f.state.Fail(t, engine.FailureMessage(a.Kind, err))
		return
	}

	f.mu.Lock()
	if !f.state.Valid(t) {
		f.mu.Unlock()
		return
	}
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	f.state.Commit(t, scene)
}

func (f *Fake) GetContext(ctx context.Context) (models.ChatContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return models.ChatContext{}, engine.ErrNoContext
	}
	data, err := json.Marshal(append([]string{}, f.messages...))
	if err != nil {
		return models.ChatContext{}, err
	}
	return models.ChatContext{Provider: f.provider, Version: models.ContextVersion, Payload: data}, nil
}

func (f *Fake) RestoreSession(history []models.GameScene, chat models.ChatContext, cfg models.GameConfig) error {
	if err := engine.CheckContext(f.provider, chat); err != nil {
		return err
	}
	var msgs []string
	if err := json.Unmarshal(chat.Payload, &msgs); err != nil {
		return fmt.Errorf("decode fake context: %w", err)
	}
	f.state.Restore(history)
	f.mu.Lock()
	f.active = true
	f.messages = msgs
	f.config = cfg
	f.mu.Unlock()
	return nil
}

func (f *Fake) Reset() {
	f.state.Reset()
	f.mu.Lock()
	f.active = false
	f.messages = nil
	f.config = models.GameConfig{}
	f.mu.Unlock()
}

// Messages returns the accepted messages.
func (f *Fake) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}
