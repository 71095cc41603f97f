// Package prompt renders the instructions and messages sent to the model.
// Every function here is pure: identical inputs give identical text.
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/tatianab/storyloom/internal/inventory"
	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/schema"
)

// RuleVersion identifies the rule set embedded in every system prompt.
const RuleVersion = "v1.1.0"

// StartMessage is the first user turn of every new game.
const StartMessage = "开始游戏。生成开场场景。"

// Mode selects between a fresh game and a resumed one.
type Mode string

const (
	ModeStart   Mode = "start"
	ModeRestore Mode = "restore"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var templates = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(promptFS, "prompts/*.tmpl"),
)

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// BuildSystemPrompt returns the system instructions for cfg in the given
// mode. Restored sessions get the current rules, not the ones in effect
// when the save was made.
func BuildSystemPrompt(cfg models.GameConfig, mode Mode) (string, error) {
	if mode != ModeStart && mode != ModeRestore {
		return "", fmt.Errorf("unknown prompt mode %q", mode)
	}
	return render("system", struct {
		RuleVersion string
		OptionCount int
		MaxSlots    int
		Config      models.GameConfig
		Mode        Mode
		Adaptive    bool
	}{
		RuleVersion: RuleVersion,
		OptionCount: schema.OptionCount,
		MaxSlots:    inventory.MaxSlots,
		Config:      cfg,
		Mode:        mode,
		Adaptive:    strings.Contains(cfg.Theme, "AI") || strings.Contains(cfg.Style, "Adaptive"),
	})
}

// WorldSettingPrompt asks the model to expand a rough world sketch. When
// no protagonist is given the model is asked for JSON naming one.
func WorldSettingPrompt(req models.WorldSettingRequest) (string, error) {
	return render("world_setting", req)
}

// ParseWorldSetting reads the reply to WorldSettingPrompt. A reply that
// should have been JSON but is not is used verbatim as the setting.
func ParseWorldSetting(raw string, wantProtagonist bool) (models.WorldSetting, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return models.WorldSetting{}, fmt.Errorf("empty world setting")
	}
	if !wantProtagonist {
		return models.WorldSetting{Setting: text}, nil
	}

	var out models.WorldSetting
	if err := json.Unmarshal([]byte(schema.StripFences(text)), &out); err != nil || strings.TrimSpace(out.Setting) == "" {
		return models.WorldSetting{Setting: text}, nil
	}
	out.Setting = strings.TrimSpace(out.Setting)
	out.Protagonist = strings.TrimSpace(out.Protagonist)
	return out, nil
}

// TurnMessage formats a player's choice, plus the inventory summary when
// one is given, as the next user turn.
func TurnMessage(opt models.GameOption, inv *models.InventoryContext) (string, error) {
	return render("turn", struct {
		Option    models.GameOption
		Inventory *models.InventoryContext
	}{opt, inv})
}
