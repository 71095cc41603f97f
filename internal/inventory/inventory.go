// Package inventory tracks the items the story has handed the player.
package inventory

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tatianab/storyloom/internal/models"
)

const (
	MaxSlots     = 10
	MaxFavorites = 5
)

// Inventory is a bounded, ordered set of items. All methods are safe for
// concurrent use. Mutating methods report false instead of failing when an
// operation would break a cap or names an unknown item.
type Inventory struct {
	mu    sync.Mutex
	items []models.InventoryItem
	log   zerolog.Logger
	newID func() string
}

func New(log zerolog.Logger) *Inventory {
	return &Inventory{
		log:   log.With().Str("component", "inventory").Logger(),
		newID: uuid.NewString,
	}
}

// Add appends an item named name. It returns false when the inventory is
// full or the name is blank.
func (inv *Inventory) Add(name, description string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.add(name, description)
}

func (inv *Inventory) add(name, description string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if len(inv.items) >= MaxSlots {
		inv.log.Warn().Str("item", name).Int("slots", MaxSlots).Msg("inventory full, item not added")
		return false
	}
	inv.items = append(inv.items, models.InventoryItem{
		ID:          inv.newID(),
		Name:        name,
		Description: description,
	})
	return true
}

// Grant adds every granted name in order and returns how many were added.
// Items past the slot cap are dropped.
func (inv *Inventory) Grant(names []string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	added := 0
	for _, name := range names {
		if inv.add(name, "") {
			added++
		}
	}
	return added
}

// Remove deletes the item with the given id.
func (inv *Inventory) Remove(id string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	i := inv.index(id)
	if i < 0 {
		return false
	}
	inv.items = append(inv.items[:i], inv.items[i+1:]...)
	return true
}

// ToggleFavorite flips the favorite flag. Favoriting fails once
// MaxFavorites items are already favorites; un-favoriting always works.
func (inv *Inventory) ToggleFavorite(id string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	i := inv.index(id)
	if i < 0 {
		return false
	}
	if inv.items[i].IsFavorite {
		inv.items[i].IsFavorite = false
		return true
	}
	if inv.countFavorites() >= MaxFavorites {
		inv.log.Warn().Str("item", inv.items[i].Name).Int("favorites", MaxFavorites).Msg("favorite limit reached")
		return false
	}
	inv.items[i].IsFavorite = true
	return true
}

// MarkPendingDiscard flags an item for removal on the next confirmed turn.
func (inv *Inventory) MarkPendingDiscard(id string) bool {
	return inv.setPending(id, true)
}

// CancelPendingDiscard clears the discard flag.
func (inv *Inventory) CancelPendingDiscard(id string) bool {
	return inv.setPending(id, false)
}

// TogglePendingDiscard flips the discard flag.
func (inv *Inventory) TogglePendingDiscard(id string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	i := inv.index(id)
	if i < 0 {
		return false
	}
	inv.items[i].PendingDiscard = !inv.items[i].PendingDiscard
	return true
}

func (inv *Inventory) setPending(id string, pending bool) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	i := inv.index(id)
	if i < 0 {
		return false
	}
	inv.items[i].PendingDiscard = pending
	return true
}

// ConfirmPendingDiscards removes every flagged item at once and returns
// the removed names. With nothing flagged it does nothing.
func (inv *Inventory) ConfirmPendingDiscards() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var removed []string
	kept := inv.items[:0]
	for _, it := range inv.items {
		if it.PendingDiscard {
			removed = append(removed, it.Name)
			continue
		}
		kept = append(kept, it)
	}
	inv.items = kept
	if len(removed) > 0 {
		inv.log.Debug().Strs("items", removed).Msg("discarded items")
	}
	return removed
}

// Items returns a copy of the held items in insertion order.
func (inv *Inventory) Items() []models.InventoryItem {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return append([]models.InventoryItem(nil), inv.items...)
}

// Export is Items for persistence; nil when empty.
func (inv *Inventory) Export() []models.InventoryItem {
	items := inv.Items()
	if len(items) == 0 {
		return nil
	}
	return items
}

func (inv *Inventory) Names() []string {
	return inv.names(func(models.InventoryItem) bool { return true })
}

func (inv *Inventory) Favorites() []string {
	return inv.names(func(it models.InventoryItem) bool { return it.IsFavorite })
}

func (inv *Inventory) PendingDiscards() []string {
	return inv.names(func(it models.InventoryItem) bool { return it.PendingDiscard })
}

func (inv *Inventory) names(keep func(models.InventoryItem) bool) []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var out []string
	for _, it := range inv.items {
		if keep(it) {
			out = append(out, it.Name)
		}
	}
	return out
}

func (inv *Inventory) Len() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.items)
}

func (inv *Inventory) IsFull() bool { return inv.Len() >= MaxSlots }

func (inv *Inventory) EmptySlots() int { return MaxSlots - inv.Len() }

// Reset empties the inventory.
func (inv *Inventory) Reset() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items = nil
}

// Restore replaces the contents with saved items. Items past the caps are
// dropped or un-favorited, and missing ids are filled in.
func (inv *Inventory) Restore(items []models.InventoryItem) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.items = nil
	favorites := 0
	for _, it := range items {
		if len(inv.items) >= MaxSlots {
			inv.log.Warn().Int("saved", len(items)).Msg("saved inventory exceeds slot limit, truncating")
			break
		}
		if strings.TrimSpace(it.Name) == "" {
			continue
		}
		if it.ID == "" {
			it.ID = inv.newID()
		}
		if it.IsFavorite {
			if favorites >= MaxFavorites {
				it.IsFavorite = false
			} else {
				favorites++
			}
		}
		inv.items = append(inv.items, it)
	}
}

// Context summarizes the inventory for the next turn message. It returns
// nil when the inventory is empty.
func (inv *Inventory) Context() *models.InventoryContext {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if len(inv.items) == 0 {
		return nil
	}
	ctx := &models.InventoryContext{IsFull: len(inv.items) >= MaxSlots}
	for _, it := range inv.items {
		ctx.AllItems = append(ctx.AllItems, it.Name)
		if it.IsFavorite {
			ctx.Favorites = append(ctx.Favorites, it.Name)
		}
		if it.PendingDiscard {
			ctx.PendingDiscards = append(ctx.PendingDiscards, it.Name)
		}
	}
	return ctx
}

func (inv *Inventory) index(id string) int {
	for i, it := range inv.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (inv *Inventory) countFavorites() int {
	n := 0
	for _, it := range inv.items {
		if it.IsFavorite {
			n++
		}
	}
	return n
}
