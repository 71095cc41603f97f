// Package openai drives the story through any OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/prompt"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	// CustomHeaders is a JSON object of extra request headers. Invalid
	// JSON is logged and ignored.
	CustomHeaders string
	MaxRetries    int
	RetryBackoff  time.Duration
	Timeout       time.Duration
}

// message is one entry of the persisted conversation.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Service implements engine.Service and engine.Retrier for
// OpenAI-compatible backends.
type Service struct {
	cfg    Config
	log    zerolog.Logger
	client *goopenai.Client
	state  *engine.State

	mu       sync.Mutex
	messages []message
}

var (
	_ engine.Service = (*Service)(nil)
	_ engine.Retrier = (*Service)(nil)
)

func New(cfg Config, log zerolog.Logger) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 1.0
	}
	s := &Service{
		cfg:   cfg,
		log:   log.With().Str("provider", string(models.ProviderOpenAI)).Str("model", cfg.Model).Logger(),
		state: engine.NewState(),
	}
	if cfg.APIKey == "" {
		s.log.Warn().Msg("OPENAI_API_KEY not set, openai backend disabled")
		return s
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if headers := parseHeaders(cfg.CustomHeaders, s.log); len(headers) > 0 {
		clientCfg.HTTPClient = &http.Client{Transport: &headerTransport{base: http.DefaultTransport, headers: headers}}
	}
	s.client = goopenai.NewClientWithConfig(clientCfg)
	return s
}

func parseHeaders(raw string, log zerolog.Logger) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		log.Warn().Err(err).Msg("custom headers are not a JSON object of strings, ignoring")
		return nil
	}
	return headers
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}

func (s *Service) Provider() models.Provider { return models.ProviderOpenAI }

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

// retryable keeps retrying rate limits and server errors but gives up on
// any other 4xx, such as a bad key or an unknown model.
func retryable(err error) bool {
	if errors.Is(err, engine.ErrMissingAPIKey) {
		return false
	}
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 {
		return status == http.StatusTooManyRequests
	}
	return true
}

func (s *Service) complete(ctx context.Context, msgs []message, format *goopenai.ChatCompletionResponseFormat) (string, error) {
	if s.client == nil {
		return "", engine.ErrMissingAPIKey
	}
	req := goopenai.ChatCompletionRequest{
		Model:          s.cfg.Model,
		Messages:       make([]goopenai.ChatCompletionMessage, 0, len(msgs)),
		Temperature:    s.cfg.Temperature,
		ResponseFormat: format,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *Service) GenerateWorldSetting(ctx context.Context, req models.WorldSettingRequest) (models.WorldSetting, error) {
	text, err := prompt.WorldSettingPrompt(req)
	if err != nil {
		return models.WorldSetting{}, &engine.GenerationError{Err: err}
	}
	wantProtagonist := strings.TrimSpace(req.Protagonist) == ""
	var format *goopenai.ChatCompletionResponseFormat
	if wantProtagonist {
		format = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	raw, err := engine.CallWithRetry(ctx, s.policy(), s.log, func(ctx context.Context) (string, error) {
		return s.complete(ctx, []message{{Role: goopenai.ChatMessageRoleUser, Content: text}}, format)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("world setting generation failed")
		return models.WorldSetting{}, &engine.GenerationError{
			Err: &engine.UpstreamCallError{Provider: models.ProviderOpenAI, Op: "world setting", Err: err},
		}
	}
	ws, err := prompt.ParseWorldSetting(raw, wantProtagonist)
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

func (s *Service) begin(t engine.Ticket, system string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Valid(t) {
		return
	}
	s.messages = []message{{Role: goopenai.ChatMessageRoleSystem, Content: system}}
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

func (s *Service) RetryLastAction(ctx context.Context, inv *models.InventoryContext) error {
	a, t, ok, err := s.state.BeginRetry(inv)
	if err != nil || !ok {
		return err
	}

	var msg string
	if a.Kind == engine.AttemptStart {
		system, err := prompt.BuildSystemPrompt(a.Config, prompt.ModeStart)
		if err != nil {
			s.state.Fail(t, engine.FailureMessage(a.Kind, err))
			return nil
		}
		s.begin(t, system)
		msg = prompt.StartMessage
	} else {
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

func (s *Service) runTurn(ctx context.Context, t engine.Ticket, kind engine.AttemptKind, text string) {
	s.mu.Lock()
	msgs := append([]message(nil), s.messages...)
	s.mu.Unlock()
	msgs = append(msgs, message{Role: goopenai.ChatMessageRoleUser, Content: text})

	format := sceneFormat()
	started := time.Now()
	scene, raw, err := engine.Exchange(ctx, models.ProviderOpenAI, s.policy(), s.log, func(ctx context.Context) (string, error) {
		return s.complete(ctx, msgs, format)
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
	s.messages = append(msgs, message{Role: goopenai.ChatMessageRoleAssistant, Content: raw})
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
	return len(s.messages) > 0
}

func (s *Service) GetContext(ctx context.Context) (models.ChatContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return models.ChatContext{}, engine.ErrNoContext
	}
	data, err := json.Marshal(s.messages)
	if err != nil {
		return models.ChatContext{}, err
	}
	return models.ChatContext{
		Provider: models.ProviderOpenAI,
		Version:  models.ContextVersion,
		Payload:  data,
	}, nil
}

// RestoreSession swaps the saved system message for one built from the
// current rules, or prepends it when the save has none.
func (s *Service) RestoreSession(history []models.GameScene, chat models.ChatContext, cfg models.GameConfig) error {
	if err := engine.CheckContext(models.ProviderOpenAI, chat); err != nil {
		return err
	}
	var msgs []message
	if err := json.Unmarshal(chat.Payload, &msgs); err != nil {
		return fmt.Errorf("decode openai context: %w", err)
	}
	for i, m := range msgs {
		switch m.Role {
		case goopenai.ChatMessageRoleSystem, goopenai.ChatMessageRoleUser, goopenai.ChatMessageRoleAssistant:
		default:
			return fmt.Errorf("decode openai context: message %d has unknown role %q", i, m.Role)
		}
	}
	system, err := prompt.BuildSystemPrompt(cfg, prompt.ModeRestore)
	if err != nil {
		return err
	}
	sys := message{Role: goopenai.ChatMessageRoleSystem, Content: system}
	if len(msgs) > 0 && msgs[0].Role == goopenai.ChatMessageRoleSystem {
		msgs[0] = sys
	} else {
		msgs = append([]message{sys}, msgs...)
	}

	s.state.Restore(history)
	s.mu.Lock()
	s.messages = msgs
	s.mu.Unlock()
	s.log.Info().Int("scenes", len(history)).Int("messages", len(msgs)).Msg("session restored")
	return nil
}

func (s *Service) Reset() {
	s.state.Reset()
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}
