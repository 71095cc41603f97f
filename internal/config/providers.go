package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tatianab/storyloom/internal/models"
)

// ProviderSettings tunes one backend. Zero values mean the backend default.
type ProviderSettings struct {
	APIKey        string        `yaml:"apiKey,omitempty"`
	BaseURL       string        `yaml:"baseURL,omitempty"`
	Model         string        `yaml:"model,omitempty"`
	Temperature   float32       `yaml:"temperature,omitempty"`
	CustomHeaders string        `yaml:"customHeaders,omitempty"`
	MaxRetries    int           `yaml:"maxRetries,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// ProvidersFile is the on-disk provider configuration.
//
//	active: openai-compatible
//	providers:
//	  openai-compatible:
//	    baseURL: https://openrouter.ai/api/v1
//	    model: deepseek/deepseek-chat
//	    customHeaders: '{"X-Title": "storyloom"}'
type ProvidersFile struct {
	Active    models.Provider                      `yaml:"active,omitempty"`
	Providers map[models.Provider]ProviderSettings `yaml:"providers,omitempty"`
}

// Settings returns the entry for p, or the zero value.
func (f *ProvidersFile) Settings(p models.Provider) ProviderSettings {
	if f == nil {
		return ProviderSettings{}
	}
	return f.Providers[p]
}

// LoadProviders reads path. A missing file yields an empty configuration.
func LoadProviders(path string) (*ProvidersFile, error) {
	f := &ProvidersFile{}
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for p := range f.Providers {
		if !p.Valid() {
			return nil, fmt.Errorf("%s: unknown provider %q", path, p)
		}
	}
	if f.Active != "" && !f.Active.Valid() {
		return nil, fmt.Errorf("%s: unknown active provider %q", path, f.Active)
	}
	return f, nil
}

// Save writes f to path.
func (f *ProvidersFile) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Selector holds the active provider. When it has a path, every change is
// written back to the providers file.
type Selector struct {
	mu     sync.RWMutex
	active models.Provider
	file   *ProvidersFile
	path   string
}

// NewSelector starts from the file's active provider, falling back to def.
func NewSelector(def models.Provider, file *ProvidersFile, path string) *Selector {
	if file == nil {
		file = &ProvidersFile{}
	}
	active := def
	if file.Active != "" {
		active = file.Active
	}
	return &Selector{active: active, file: file, path: path}
}

func (s *Selector) Active() models.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Selector) SetActive(p models.Provider) error {
	if !p.Valid() {
		return fmt.Errorf("unknown provider %q", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = p
	if s.path == "" {
		return nil
	}
	s.file.Active = p
	return s.file.Save(s.path)
}
