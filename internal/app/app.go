// Package app wires configuration into a ready session controller.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tatianab/storyloom/internal/config"
	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/engine/gemini"
	"github.com/tatianab/storyloom/internal/engine/openai"
	"github.com/tatianab/storyloom/internal/inventory"
	"github.com/tatianab/storyloom/internal/metrics"
	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/saves"
	"github.com/tatianab/storyloom/internal/session"
	"github.com/tatianab/storyloom/internal/storage"
)

type App struct {
	Controller *session.Controller
	Selector   *config.Selector
	Saves      *saves.Store
	Metrics    *metrics.Recorder
	Log        zerolog.Logger

	closers []func() error
}

// Build opens the save backend and constructs both provider adapters.
// Missing API keys are not fatal; turns on that backend fail with a
// message until a key is configured.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	def, err := models.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	file, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(ctx, StorageOptions(cfg.Store), log)
	if err != nil {
		return nil, fmt.Errorf("opening save store: %w", err)
	}
	a := &App{
		Selector: config.NewSelector(def, file, cfg.ProvidersFile),
		Saves:    saves.New(backend, log),
		Metrics:  metrics.New(),
		Log:      log,
		closers:  []func() error{backend.Close},
	}

	gem, err := gemini.New(ctx, GeminiConfig(cfg, file), log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, gem.Close)

	a.Controller, err = session.New(session.Options{
		Services:  []engine.Service{gem, openai.New(OpenAIConfig(cfg, file), log)},
		Switch:    a.Selector,
		Saves:     a.Saves,
		Inventory: inventory.New(log),
		Metrics:   a.Metrics,
		Log:       log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Info().
		Str("provider", string(a.Selector.Active())).
		Str("store", cfg.Store.Kind).
		Msg("storyloom ready")
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func StorageOptions(c config.StoreConfig) storage.Options {
	return storage.Options{
		Kind:       storage.Kind(c.Kind),
		Dir:        c.Dir,
		SQLitePath: c.SQLitePath,
		Redis: storage.RedisOptions{
			Addr:      c.RedisAddr,
			Password:  c.RedisPassword,
			DB:        c.RedisDB,
			Namespace: c.RedisHash,
		},
	}
}

// GeminiConfig merges the providers file with the environment; the
// environment key wins.
func GeminiConfig(cfg *config.Config, file *config.ProvidersFile) gemini.Config {
	s := file.Settings(models.ProviderGemini)
	key := cfg.Gemini.APIKey
	if key == "" {
		key = s.APIKey
	}
	return gemini.Config{
		APIKey:      key,
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxRetries:  s.MaxRetries,
		Timeout:     s.Timeout,
	}
}

func OpenAIConfig(cfg *config.Config, file *config.ProvidersFile) openai.Config {
	s := file.Settings(models.ProviderOpenAI)
	key := cfg.OpenAI.APIKey
	if key == "" {
		key = s.APIKey
	}
	baseURL := cfg.OpenAI.BaseURL
	if baseURL == "" {
		baseURL = s.BaseURL
	}
	return openai.Config{
		APIKey:        key,
		BaseURL:       baseURL,
		Model:         s.Model,
		Temperature:   s.Temperature,
		CustomHeaders: s.CustomHeaders,
		MaxRetries:    s.MaxRetries,
		Timeout:       s.Timeout,
	}
}
