package engine

import (
	"errors"
	"fmt"

	"github.com/tatianab/storyloom/internal/models"
)

var (
	// ErrNoContext is returned when a turn is requested before a game
	// was started or restored.
	ErrNoContext = errors.New("no active conversation, start or load a game first")
	// ErrTurnInFlight is returned when a turn is requested while another
	// one is still loading.
	ErrTurnInFlight = errors.New("a turn is already in progress")
	// ErrDiscarded is returned by Commit when the session was reset or
	// restored while the turn was in flight.
	ErrDiscarded = errors.New("turn result discarded, session changed")
	// ErrMissingAPIKey is returned by backends configured without a key.
	ErrMissingAPIKey = errors.New("API key is not configured")
)

// UpstreamCallError wraps a transport, auth or rate-limit failure from a
// backend.
type UpstreamCallError struct {
	Provider models.Provider
	Op       string
	Err      error
}

func (e *UpstreamCallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamCallError) Unwrap() error { return e.Err }

// GenerationError reports a failed world-setting generation.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "世界观生成失败: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ContextMismatchError is returned when a saved context belongs to another
// backend.
type ContextMismatchError struct {
	Want, Got models.Provider
}

func (e *ContextMismatchError) Error() string {
	return fmt.Sprintf("chat context belongs to %q, adapter is %q", e.Got, e.Want)
}

// ContextVersionError is returned for context payloads written by an
// unknown layout version.
type ContextVersionError struct {
	Version int
}

func (e *ContextVersionError) Error() string {
	return fmt.Sprintf("unsupported chat context version %d (want %d)", e.Version, models.ContextVersion)
}

// CheckContext verifies that chat can be restored by the adapter for p.
func CheckContext(p models.Provider, chat models.ChatContext) error {
	if chat.Provider != p {
		return &ContextMismatchError{Want: p, Got: chat.Provider}
	}
	if chat.Version != models.ContextVersion {
		return &ContextVersionError{Version: chat.Version}
	}
	return nil
}

// FailureMessage is the user-facing text for a failed turn.
func FailureMessage(kind AttemptKind, err error) string {
	prefix := "时间线发生了断裂，请重试该操作。"
	if kind == AttemptStart {
		prefix = "故事启动失败，请重试。"
	}
	if err == nil {
		return prefix
	}
	return prefix + err.Error()
}
