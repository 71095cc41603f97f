// Package engine defines the contract every LLM backend implements and the
// observable per-adapter state shared by all of them.
package engine

import (
	"context"

	"github.com/tatianab/storyloom/internal/models"
)

// Service drives one LLM backend through the narrative protocol.
//
// StartGame, MakeChoice and RetryLastAction report turn failures through
// State().Error and return nil; their error return is reserved for
// precondition violations such as ErrNoContext or ErrTurnInFlight.
type Service interface {
	Provider() models.Provider
	State() *State

	GenerateWorldSetting(ctx context.Context, req models.WorldSettingRequest) (models.WorldSetting, error)
	StartGame(ctx context.Context, cfg models.GameConfig) error
	MakeChoice(ctx context.Context, opt models.GameOption, inv *models.InventoryContext) error

	// GetContext snapshots the native conversation for persistence.
	GetContext(ctx context.Context) (models.ChatContext, error)
	// RestoreSession replaces both histories. The system instructions are
	// rebuilt from cfg with the current rules.
	RestoreSession(history []models.GameScene, chat models.ChatContext, cfg models.GameConfig) error
	// Reset drops the session and discards any turn still in flight.
	Reset()
}

// Retrier is implemented by adapters that can replay the last failed turn.
// A replayed choice carries inv, the inventory as it is now.
type Retrier interface {
	RetryLastAction(ctx context.Context, inv *models.InventoryContext) error
}
