package engine

import (
	"sync"

	"github.com/tatianab/storyloom/internal/models"
)

// AttemptKind distinguishes the two kinds of turn.
type AttemptKind int

const (
	AttemptStart AttemptKind = iota + 1
	AttemptChoice
)

func (k AttemptKind) String() string {
	switch k {
	case AttemptStart:
		return "start"
	case AttemptChoice:
		return "choice"
	}
	return "unknown"
}

// Attempt records the turn last sent upstream so it can be replayed after
// a failure.
type Attempt struct {
	Kind      AttemptKind
	Config    models.GameConfig
	Option    models.GameOption
	Inventory *models.InventoryContext
	Failed    bool
}

// Ticket identifies the session generation a turn was started in.
type Ticket struct {
	epoch uint64
}

// Snapshot is a copy of the observable state.
type Snapshot struct {
	Loading     bool
	History     []models.GameScene
	Error       string
	LastAttempt *Attempt
}

// LastScene returns the newest scene, if any.
func (s Snapshot) LastScene() (models.GameScene, bool) {
	if len(s.History) == 0 {
		return models.GameScene{}, false
	}
	return s.History[len(s.History)-1], true
}

// State holds the signals of one adapter: loading flag, scene history and
// last error. Each Begin* call opens a turn and returns a Ticket; the turn
// must end with Commit or Fail. Reset and Restore invalidate all
// outstanding tickets.
type State struct {
	mu      sync.Mutex
	loading bool
	history []models.GameScene
	errMsg  string
	attempt *Attempt
	epoch   uint64

	nextSub int
	subs    map[int]func(Snapshot)
}

func NewState() *State {
	return &State{subs: make(map[int]func(Snapshot))}
}

// Snapshot returns a deep enough copy that callers may modify it.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *State) snapshot() Snapshot {
	snap := Snapshot{
		Loading: s.loading,
		History: append([]models.GameScene(nil), s.history...),
		Error:   s.errMsg,
	}
	if s.attempt != nil {
		a := *s.attempt
		snap.LastAttempt = &a
	}
	return snap
}

// Subscribe registers fn to be called with a fresh snapshot after every
// change. The returned func unregisters it.
func (s *State) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// update runs fn under the lock and then notifies subscribers outside it.
func (s *State) update(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	var (
		snap Snapshot
		subs []func(Snapshot)
	)
	if changed {
		snap = s.snapshot()
		for _, sub := range s.subs {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
	return changed
}

// Len returns the number of scenes.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// BeginStart clears the history and opens the opening turn.
func (s *State) BeginStart(cfg models.GameConfig) (Ticket, error) {
	var t Ticket
	err := ErrTurnInFlight
	s.update(func() bool {
		if s.loading {
			return false
		}
		s.epoch++
		s.history = nil
		s.errMsg = ""
		s.loading = true
		s.attempt = &Attempt{Kind: AttemptStart, Config: cfg}
		t, err = Ticket{epoch: s.epoch}, nil
		return true
	})
	return t, err
}

// BeginChoice attaches opt.Action to the newest scene as its userChoice
// and opens the turn that answers it.
func (s *State) BeginChoice(opt models.GameOption, inv *models.InventoryContext) (Ticket, error) {
	var t Ticket
	var err error
	s.update(func() bool {
		switch {
		case s.loading:
			err = ErrTurnInFlight
			return false
		case len(s.history) == 0:
			err = ErrNoContext
			return false
		}
		last := len(s.history) - 1
		s.history[last].UserChoice = opt.Action
		s.errMsg = ""
		s.loading = true
		s.attempt = &Attempt{Kind: AttemptChoice, Option: opt, Inventory: inv}
		t = Ticket{epoch: s.epoch}
		return true
	})
	return t, err
}

// BeginRetry reopens the last failed turn. ok is false when there is
// nothing to retry; userChoice is not attached again. A choice keeps its
// option and takes inv as its inventory context.
func (s *State) BeginRetry(inv *models.InventoryContext) (a Attempt, t Ticket, ok bool, err error) {
	s.update(func() bool {
		if s.loading {
			err = ErrTurnInFlight
			return false
		}
		if s.attempt == nil || !s.attempt.Failed {
			return false
		}
		if s.attempt.Kind == AttemptStart {
			s.epoch++
			s.history = nil
		} else {
			s.attempt.Inventory = inv
		}
		s.attempt.Failed = false
		s.errMsg = ""
		s.loading = true
		a, t, ok = *s.attempt, Ticket{epoch: s.epoch}, true
		return true
	})
	return a, t, ok, err
}

// Valid reports whether t still belongs to the current session.
func (s *State) Valid(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.epoch == s.epoch
}

// Commit appends scene and closes the turn.
func (s *State) Commit(t Ticket, scene models.GameScene) error {
	if !s.update(func() bool {
		if t.epoch != s.epoch {
			return false
		}
		s.history = append(s.history, scene)
		s.loading = false
		s.attempt = nil
		return true
	}) {
		return ErrDiscarded
	}
	return nil
}

// Fail closes the turn with a user-facing message. It reports false when
// the ticket is stale.
func (s *State) Fail(t Ticket, msg string) bool {
	return s.update(func() bool {
		if t.epoch != s.epoch {
			return false
		}
		s.loading = false
		s.errMsg = msg
		if s.attempt != nil {
			s.attempt.Failed = true
		}
		return true
	})
}

// Restore replaces the history with a saved one.
func (s *State) Restore(history []models.GameScene) {
	s.update(func() bool {
		s.epoch++
		s.history = append([]models.GameScene(nil), history...)
		s.loading = false
		s.errMsg = ""
		s.attempt = nil
		return true
	})
}

// Reset empties the state.
func (s *State) Reset() {
	s.update(func() bool {
		s.epoch++
		s.history = nil
		s.loading = false
		s.errMsg = ""
		s.attempt = nil
		return true
	})
}
