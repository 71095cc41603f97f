// Package gemini drives the story through Google's Gemini chat API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/prompt"
)

const DefaultModel = "gemini-2.5-flash"

const (
	roleUser  = "user"
	roleModel = "model"
)

type Config struct {
	APIKey       string
	Model        string
	Temperature  float32
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

// turn is one entry of the persisted conversation.
type turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type payload struct {
	Turns []turn `json:"turns"`
}

// generateFunc sends message after history and returns the reply text.
// When structured is set the reply must follow the scene schema.
type generateFunc func(ctx context.Context, system string, history []turn, message string, structured bool) (string, error)

// Service implements engine.Service and engine.Retrier for Gemini.
type Service struct {
	cfg      Config
	log      zerolog.Logger
	client   *genai.Client
	generate generateFunc
	state    *engine.State

	mu     sync.Mutex
	system string
	turns  []turn
}

var (
	_ engine.Service = (*Service)(nil)
	_ engine.Retrier = (*Service)(nil)
)

// New creates the adapter. Without an API key no client is created and
// every upstream call fails with engine.ErrMissingAPIKey.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	s := newService(cfg, log, nil)
	if cfg.APIKey == "" {
		s.log.Warn().Msg("GEMINI_API_KEY not set, gemini backend disabled")
		return s, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	s.client = client
	return s, nil
}

func newService(cfg Config, log zerolog.Logger, gen generateFunc) *Service {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 1.0
	}
	s := &Service{
		cfg:   cfg,
		log:   log.With().Str("provider", string(models.ProviderGemini)).Str("model", cfg.Model).Logger(),
		state: engine.NewState(),
	}
	s.generate = gen
	if s.generate == nil {
		s.generate = s.send
	}
	return s
}

func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Service) Provider() models.Provider { return models.ProviderGemini }

func (s *Service) State() *engine.State { return s.state }

func (s *Service) policy() engine.Policy {
	p := engine.DefaultPolicy
	if s.cfg.MaxRetries > 0 {
		p.Attempts = s.cfg.MaxRetries
	}
	if s.cfg.RetryBackoff > 0 {
		p.Backoff = s.cfg.RetryBackoff
	}
	if s.cfg.Timeout > 0 {
		p.Timeout = s.cfg.Timeout
	}
	p.Retryable = retryable
	return p
}

// retryable rejects errors another identical call cannot fix.
func retryable(err error) bool {
	if errors.Is(err, engine.ErrMissingAPIKey) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	var blocked *genai.BlockedError
	return !errors.As(err, &blocked)
}

func (s *Service) GenerateWorldSetting(ctx context.Context, req models.WorldSettingRequest) (models.WorldSetting, error) {
	text, err := prompt.WorldSettingPrompt(req)
	if err != nil {
		return models.WorldSetting{}, &engine.GenerationError{Err: err}
	}
	raw, err := engine.CallWithRetry(ctx, s.policy(), s.log, func(ctx context.Context) (string, error) {
		return s.generate(ctx, "", nil, text, false)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("world setting generation failed")
		return models.WorldSetting{}, &engine.GenerationError{
			Err: &engine.UpstreamCallError{Provider: models.ProviderGemini, Op: "world setting", Err: err},
		}
	}
	ws, err := prompt.ParseWorldSetting(raw, strings.TrimSpace(req.Protagonist) == "")
	if err != nil {
		return models.WorldSetting{}, &engine.GenerationError{Err: err}
	}
	return ws, nil
}

func (s *Service) StartGame(ctx context.Context, cfg models.GameConfig) error {
	system, err := prompt.BuildSystemPrompt(cfg, prompt.ModeStart)
	if err != nil {
		return err
	}
	t, err := s.state.BeginStart(cfg)
	if err != nil {
		return err
	}
	s.begin(t, system)
	s.runTurn(ctx, t, engine.AttemptStart, prompt.StartMessage)
	return nil
}

// begin installs a fresh conversation for the turn t.
func (s *Service) begin(t engine.Ticket, system string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Valid(t) {
		return
	}
	s.system = system
	s.turns = nil
}

func (s *Service) MakeChoice(ctx context.Context, opt models.GameOption, inv *models.InventoryContext) error {
	if !s.hasContext() {
		return engine.ErrNoContext
	}
	msg, err := prompt.TurnMessage(opt, inv)
	if err != nil {
		return err
	}
	t, err := s.state.BeginChoice(opt, inv)
	if err != nil {
		return err
	}
	s.runTurn(ctx, t, engine.AttemptChoice, msg)
	return nil
}

// RetryLastAction replays the last failed turn. Failed turns never reach
// the conversation, so the same action is sent again with inv attached.
func (s *Service) RetryLastAction(ctx context.Context, inv *models.InventoryContext) error {
	a, t, ok, err := s.state.BeginRetry(inv)
	if err != nil || !ok {
		return err
	}

	var msg string
	switch a.Kind {
	case engine.AttemptStart:
		system, err := prompt.BuildSystemPrompt(a.Config, prompt.ModeStart)
		if err != nil {
			s.state.Fail(t, engine.FailureMessage(a.Kind, err))
			return nil
		}
		s.begin(t, system)
		msg = prompt.StartMessage
	default:
		msg, err = prompt.TurnMessage(a.Option, a.Inventory)
		if err != nil {
			s.state.Fail(t, engine.FailureMessage(a.Kind, err))
			return nil
		}
	}
	s.log.Info().Str("kind", a.Kind.String()).Msg("retrying last action")
	s.runTurn(ctx, t, a.Kind, msg)
	return nil
}

func (s *Service) runTurn(ctx context.Context, t engine.Ticket, kind engine.AttemptKind, message string) {
	s.mu.Lock()
	system := s.system
	history := append([]turn(nil), s.turns...)
	s.mu.Unlock()

	started := time.Now()
	scene, raw, err := engine.Exchange(ctx, models.ProviderGemini, s.policy(), s.log, func(ctx context.Context) (string, error) {
		return s.generate(ctx, system, history, message, true)
	})
	if err != nil {
		if s.state.Fail(t, engine.FailureMessage(kind, err)) {
			s.log.Error().Err(err).Str("kind", kind.String()).Msg("turn failed")
		}
		return
	}

	s.mu.Lock()
	if !s.state.Valid(t) {
		s.mu.Unlock()
		s.log.Debug().Msg("session changed during turn, dropping result")
		return
	}
	s.turns = append(history, turn{Role: roleUser, Text: message}, turn{Role: roleModel, Text: raw})
	s.mu.Unlock()

	if err := s.state.Commit(t, scene); err != nil {
		s.log.Debug().Err(err).Msg("turn result not committed")
		return
	}
	s.log.Info().Str("kind", kind.String()).Dur("took", time.Since(started)).Msg("turn complete")
}

func (s *Service) hasContext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.system != ""
}

func (s *Service) GetContext(ctx context.Context) (models.ChatContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.system == "" {
		return models.ChatContext{}, engine.ErrNoContext
	}
	data, err := json.Marshal(payload{Turns: append([]turn{}, s.turns...)})
	if err != nil {
		return models.ChatContext{}, err
	}
	return models.ChatContext{
		Provider: models.ProviderGemini,
		Version:  models.ContextVersion,
		Payload:  data,
	}, nil
}

func (s *Service) RestoreSession(history []models.GameScene, chat models.ChatContext, cfg models.GameConfig) error {
	if err := engine.CheckContext(models.ProviderGemini, chat); err != nil {
		return err
	}
	var p payload
	if err := json.Unmarshal(chat.Payload, &p); err != nil {
		return fmt.Errorf("decode gemini context: %w", err)
	}
	for i, t := range p.Turns {
		if t.Role != roleUser && t.Role != roleModel {
			return fmt.Errorf("decode gemini context: turn %d has unknown role %q", i, t.Role)
		}
	}
	system, err := prompt.BuildSystemPrompt(cfg, prompt.ModeRestore)
	if err != nil {
		return err
	}

	s.state.Restore(history)
	s.mu.Lock()
	s.system = system
	s.turns = p.Turns
	s.mu.Unlock()
	s.log.Info().Int("scenes", len(history)).Int("turns", len(p.Turns)).Msg("session restored")
	return nil
}

func (s *Service) Reset() {
	s.state.Reset()
	s.mu.Lock()
	s.system = ""
	s.turns = nil
	s.mu.Unlock()
}

// send is the generateFunc backed by the real API. A new chat is built
// for every call so that a failed call leaves no trace in s.turns.
func (s *Service) send(ctx context.Context, system string, history []turn, message string, structured bool) (string, error) {
	if s.client == nil {
		return "", engine.ErrMissingAPIKey
	}

	model := s.client.GenerativeModel(s.cfg.Model)
	model.SetTemperature(s.cfg.Temperature)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if structured {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = sceneSchema()
	}

	cs := model.StartChat()
	for _, t := range history {
		cs.History = append(cs.History, &genai.Content{Role: t.Role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	resp, err := cs.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content returned from Gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from Gemini")
	}
	return b.String(), nil
}
