// Package saves persists complete session snapshots as save slots. A
// record that cannot be decoded is reported on its own and never hides
// the others.
package saves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/storage"
)

// KeyPrefix is prepended to a slot id to form its storage key.
const KeyPrefix = "save_"

// SummaryLength is the number of narrative characters kept in a summary.
const SummaryLength = 30

// ErrSaveNotFound is returned when no record exists for an id.
var ErrSaveNotFound = errors.New("save not found")

// SaveCorruptError is returned when a record exists but cannot be used.
type SaveCorruptError struct {
	ID     string
	Reason string
	Err    error
}

func (e *SaveCorruptError) Error() string {
	return fmt.Sprintf("save %s is corrupted: %s", e.ID, e.Reason)
}

func (e *SaveCorruptError) Unwrap() error { return e.Err }

// Listing is the result of scanning the store.
type Listing struct {
	Saves     []models.SaveSlotMeta      `json:"saves"`
	Corrupted []models.CorruptedSaveMeta `json:"corrupted"`
}

type Store struct {
	backend storage.Backend
	log     zerolog.Logger
}

func New(backend storage.Backend, log zerolog.Logger) *Store {
	return &Store{backend: backend, log: log.With().Str("component", "saves").Logger()}
}

// NewID returns a fresh slot id.
func NewID() string {
	return uuid.NewString()
}

func key(id string) string { return KeyPrefix + id }

// Save writes slot, replacing any record with the same id.
func (s *Store) Save(ctx context.Context, slot models.SaveSlot) error {
	if strings.TrimSpace(slot.ID) == "" {
		return errors.New("save slot has no id")
	}
	if !slot.Provider.Valid() {
		return fmt.Errorf("save slot has unknown provider %q", slot.Provider)
	}
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("encode save %s: %w", slot.ID, err)
	}
	if err := s.backend.Set(ctx, key(slot.ID), data); err != nil {
		return fmt.Errorf("write save %s: %w", slot.ID, err)
	}
	s.log.Info().Str("id", slot.ID).Int("scenes", len(slot.SceneHistory)).Msg("saved")
	return nil
}

// Load reads one slot. It returns ErrSaveNotFound or *SaveCorruptError.
func (s *Store) Load(ctx context.Context, id string) (models.SaveSlot, error) {
	data, err := s.backend.Get(ctx, key(id))
	if errors.Is(err, storage.ErrNotFound) {
		return models.SaveSlot{}, ErrSaveNotFound
	}
	if err != nil {
		return models.SaveSlot{}, fmt.Errorf("read save %s: %w", id, err)
	}

	var slot models.SaveSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return models.SaveSlot{}, &SaveCorruptError{ID: id, Reason: "invalid JSON", Err: err}
	}
	if reason := checkMeta(id, slot.SaveSlotMeta); reason != "" {
		return models.SaveSlot{}, &SaveCorruptError{ID: id, Reason: reason}
	}
	if slot.ChatContext.Provider != slot.Provider {
		return models.SaveSlot{}, &SaveCorruptError{
			ID:     id,
			Reason: fmt.Sprintf("chat context provider %q does not match save provider %q", slot.ChatContext.Provider, slot.Provider),
		}
	}
	if slot.ChatContext.Version != models.ContextVersion {
		return models.SaveSlot{}, &SaveCorruptError{
			ID:     id,
			Reason: fmt.Sprintf("unsupported chat context version %d", slot.ChatContext.Version),
		}
	}
	return slot, nil
}

// Exists reports whether a record, valid or not, is stored under id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.backend.Get(ctx, key(id))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes a record, corrupted or not. Deleting a missing id is not
// an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, key(id)); err != nil {
		return fmt.Errorf("delete save %s: %w", id, err)
	}
	s.log.Info().Str("id", id).Msg("deleted")
	return nil
}

// List decodes only the metadata of every record, newest first.
func (s *Store) List(ctx context.Context) (Listing, error) {
	keys, err := s.backend.Keys(ctx, KeyPrefix)
	if err != nil {
		return Listing{}, fmt.Errorf("list saves: %w", err)
	}

	listing := Listing{Saves: []models.SaveSlotMeta{}, Corrupted: []models.CorruptedSaveMeta{}}
	for _, k := range keys {
		id := strings.TrimPrefix(k, KeyPrefix)
		data, err := s.backend.Get(ctx, k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			listing.Corrupted = append(listing.Corrupted, models.CorruptedSaveMeta{ID: id, Reason: err.Error()})
			continue
		}

		var meta models.SaveSlotMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			s.log.Warn().Str("id", id).Err(err).Msg("corrupted save")
			listing.Corrupted = append(listing.Corrupted, models.CorruptedSaveMeta{ID: id, Reason: "invalid JSON: " + err.Error()})
			continue
		}
		if reason := checkMeta(id, meta); reason != "" {
			s.log.Warn().Str("id", id).Str("reason", reason).Msg("corrupted save")
			listing.Corrupted = append(listing.Corrupted, models.CorruptedSaveMeta{ID: id, Reason: reason})
			continue
		}
		listing.Saves = append(listing.Saves, meta)
	}

	sort.Slice(listing.Saves, func(i, j int) bool {
		a, b := listing.Saves[i], listing.Saves[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return a.ID < b.ID
	})
	sort.Slice(listing.Corrupted, func(i, j int) bool {
		return listing.Corrupted[i].ID < listing.Corrupted[j].ID
	})
	return listing, nil
}

func checkMeta(id string, meta models.SaveSlotMeta) string {
	switch {
	case meta.ID != id:
		return fmt.Sprintf("stored id %q does not match key", meta.ID)
	case !meta.Provider.Valid():
		return fmt.Sprintf("unknown provider %q", meta.Provider)
	}
	return ""
}

var spaces = regexp.MustCompile(`\s+`)

// Summarize describes a save by its scene count and the start of the
// newest narrative.
func Summarize(history []models.GameScene) string {
	if len(history) == 0 {
		return "新游戏"
	}
	narrative := history[len(history)-1].Narrative
	snippet := narrative
	if utf8.RuneCountInString(narrative) > SummaryLength {
		snippet = string([]rune(narrative)[:SummaryLength])
	}
	snippet = strings.TrimSpace(spaces.ReplaceAllString(snippet, " "))

	out := fmt.Sprintf("第%d幕 - %s", len(history), snippet)
	if utf8.RuneCountInString(narrative) > SummaryLength {
		out += "..."
	}
	return out
}
