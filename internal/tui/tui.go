package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/session"
)

type screen int

const (
	screenSetup screen = iota
	screenGenerating
	screenPlaying
)

// setup asks for one field per step.
var setupPrompts = []string{
	"Theme (e.g. 武侠, cyberpunk noir):",
	"Setting (leave empty to let the storyteller invent one):",
	"Protagonist (leave empty to let the storyteller invent one):",
	"Style (e.g. 轻松, grim, poetic):",
}

type model struct {
	screen    screen
	ctrl      *session.Controller
	view      session.View
	setup     models.GameConfig
	step      int
	textInput textinput.Model
	viewport  viewport.Model
	notice    string
	saves     []models.SaveSlotMeta
	width     int
	height    int
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD787")).
			Bold(true)

	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87AFD7"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)
)

func NewModel(ctrl *session.Controller) model {
	ti := textinput.New()
	ti.Placeholder = setupPrompts[0]
	ti.Focus()
	ti.CharLimit = 300
	ti.Width = 60

	m := model{
		screen:    screenSetup,
		ctrl:      ctrl,
		textInput: ti,
		viewport:  viewport.New(80, 20),
		view:      ctrl.View(),
	}
	if m.view.Phase != session.PhaseNoSession {
		m.screen = screenPlaying
	}
	return m
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// viewMsg carries a controller snapshot pushed by the subscription.
type viewMsg struct {
	view session.View
}

type worldGeneratedMsg struct {
	world models.WorldSetting
	err   error
}

type actionDoneMsg struct {
	notice string
	saves  []models.SaveSlotMeta
	err    error
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			value := strings.TrimSpace(m.textInput.Value())
			m.textInput.Reset()
			switch m.screen {
			case screenSetup:
				return m.setupStep(value)
			case screenPlaying:
				return m.command(value)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = int(float64(msg.Width) * 0.70)
		m.viewport.Height = msg.Height - 8
		m.refreshLog()

	case viewMsg:
		m.view = msg.view
		if m.view.Phase != session.PhaseNoSession || m.view.Error != "" {
			m.screen = screenPlaying
		}
		m.refreshLog()
		return m, nil

	case worldGeneratedMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			m.screen = screenSetup
			m.step = 1
			m.textInput.Placeholder = setupPrompts[1]
			return m, nil
		}
		if m.setup.Setting == "" {
			m.setup.Setting = msg.world.Setting
		}
		if m.setup.Protagonist == "" {
			m.setup.Protagonist = msg.world.Protagonist
		}
		return m.begin()

	case actionDoneMsg:
		m.notice = msg.notice
		if msg.err != nil {
			m.notice = "Error: " + msg.err.Error()
		}
		if msg.saves != nil {
			m.saves = msg.saves
		}
		m.view = m.ctrl.View()
		if m.view.Phase == session.PhaseNoSession && m.view.Error == "" {
			m.resetSetup()
		}
		m.refreshLog()
		return m, nil
	}

	if m.screen == screenSetup || m.screen == screenPlaying {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) setupStep(value string) (tea.Model, tea.Cmd) {
	switch m.step {
	case 0:
		if value == "" {
			m.notice = "A theme is required."
			return m, nil
		}
		m.setup.Theme = value
	case 1:
		m.setup.Setting = value
	case 2:
		m.setup.Protagonist = value
	case 3:
		m.setup.Style = value
	}
	m.notice = ""
	m.step++
	if m.step < len(setupPrompts) {
		m.textInput.Placeholder = setupPrompts[m.step]
		return m, nil
	}
	if m.setup.Setting == "" || m.setup.Protagonist == "" {
		m.screen = screenGenerating
		return m, m.generateWorld()
	}
	return m.begin()
}

func (m model) begin() (tea.Model, tea.Cmd) {
	m.screen = screenPlaying
	m.textInput.Placeholder = "Option number, free text, or /help"
	cfg := m.setup
	return m, m.run(func(ctx context.Context) (string, error) {
		return "", m.ctrl.Start(ctx, cfg)
	})
}

func (m *model) resetSetup() {
	m.screen = screenSetup
	m.setup = models.GameConfig{}
	m.step = 0
	m.textInput.Placeholder = setupPrompts[0]
}

const helpText = "1-9 choose · text acts freely · /retry /save /overwrite N /saves /load N /delete N /fav N /drop N /provider NAME /quit · Esc exits"

// command handles one line typed while playing.
func (m model) command(value string) (tea.Model, tea.Cmd) {
	if value == "" {
		return m, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		scene, ok := m.view.Current()
		if !ok || n < 1 || n > len(scene.Options) {
			m.notice = fmt.Sprintf("No option %d.", n)
			return m, nil
		}
		opt := scene.Options[n-1]
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", m.ctrl.Choose(ctx, opt)
		})
	}
	if !strings.HasPrefix(value, "/") {
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", m.ctrl.ChooseCustom(ctx, value)
		})
	}

	fields := strings.Fields(value)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch fields[0] {
	case "/help":
		m.notice = helpText
	case "/retry":
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", m.ctrl.Retry(ctx)
		})
	case "/save":
		return m, m.run(func(ctx context.Context) (string, error) {
			meta, err := m.ctrl.Save(ctx)
			return "Saved: " + meta.Summary, err
		})
	case "/overwrite":
		id, ok := m.saveAt(arg)
		if !ok {
			return m, nil
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			meta, err := m.ctrl.Overwrite(ctx, id)
			return "Overwritten: " + meta.Summary, err
		})
	case "/saves":
		return m, m.listSaves()
	case "/load":
		id, ok := m.saveAt(arg)
		if !ok {
			return m, nil
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			return "Loaded.", m.ctrl.Load(ctx, id)
		})
	case "/delete":
		id, ok := m.saveAt(arg)
		if !ok {
			return m, nil
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			return "Deleted.", m.ctrl.DeleteSave(ctx, id)
		})
	case "/fav", "/drop":
		item, ok := m.itemAt(arg)
		if !ok {
			return m, nil
		}
		var toggled bool
		if fields[0] == "/fav" {
			toggled = m.ctrl.ToggleFavorite(item.ID)
		} else {
			toggled = m.ctrl.TogglePendingDiscard(item.ID)
		}
		if !toggled {
			m.notice = "Cannot change " + item.Name + "."
		}
		m.view = m.ctrl.View()
	case "/provider":
		return m, m.run(func(ctx context.Context) (string, error) {
			return m.switchProvider(arg)
		})
	case "/quit":
		return m, m.run(func(context.Context) (string, error) {
			m.ctrl.Quit()
			return "", nil
		})
	default:
		m.notice = "Unknown command. " + helpText
	}
	m.refreshLog()
	return m, nil
}

func (m *model) saveAt(arg string) (string, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(m.saves) {
		m.notice = "Use /saves first, then pick a listed number."
		return "", false
	}
	return m.saves[n-1].ID, true
}

func (m *model) itemAt(arg string) (models.InventoryItem, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(m.view.Inventory) {
		m.notice = "No such item."
		return models.InventoryItem{}, false
	}
	return m.view.Inventory[n-1], true
}

func (m model) View() string {
	var s string

	switch m.screen {
	case screenSetup:
		s = fmt.Sprintf(
			"Welcome to storyloom!\n\n%s\n\n%s",
			setupPrompts[m.step],
			m.textInput.View(),
		)
		if m.notice != "" {
			s += "\n\n" + errorStyle.Render(m.notice)
		}

	case screenGenerating:
		s = "\n  Imagining your world... please wait.\n"

	case screenPlaying:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top,
			m.viewport.View(),
			m.renderState(),
		)
		status := helpStyle.Render(helpText)
		switch {
		case m.view.Phase == session.PhaseLoading:
			status = helpStyle.Render("The story is unfolding... please wait.")
		case m.view.Error != "":
			status = errorStyle.Render(m.view.Error) + helpStyle.Render("  (/retry)")
		case m.notice != "":
			status = helpStyle.Render(m.notice)
		}
		s = lipgloss.JoinVertical(lipgloss.Left,
			mainView,
			"\n"+m.textInput.View(),
			"\n"+status,
		)
	}

	return "\n" + s + "\n"
}

func (m model) renderState() string {
	var b strings.Builder
	scene, ok := m.view.Current()

	b.WriteString(titleStyle.Render("PROVIDER") + "\n" + string(m.view.Provider) + "\n\n")
	if ok {
		b.WriteString(titleStyle.Render("LOCATION") + "\n" + orDash(scene.CurrentLocation) + "\n\n")
		b.WriteString(titleStyle.Render("TIME") + "\n" + orDash(scene.CurrentTime) + "\n\n")
		if scene.CurrencyAmount != nil {
			b.WriteString(titleStyle.Render("PURSE") + "\n" +
				strconv.FormatFloat(*scene.CurrencyAmount, 'f', -1, 64) + " " + scene.CurrencyUnit + "\n\n")
		}
	}

	b.WriteString(titleStyle.Render(fmt.Sprintf("INVENTORY (%d free)", m.view.FreeSlots)) + "\n")
	if len(m.view.Inventory) == 0 {
		b.WriteString("(empty)\n")
	}
	for i, item := range m.view.Inventory {
		mark := " "
		switch {
		case item.PendingDiscard:
			mark = "✗"
		case item.IsFavorite:
			mark = "★"
		}
		fmt.Fprintf(&b, "%d %s %s\n", i+1, mark, item.Name)
	}

	if len(m.saves) > 0 {
		b.WriteString("\n" + titleStyle.Render("SAVES") + "\n")
		for i, s := range m.saves {
			fmt.Fprintf(&b, "%d %s\n  %s\n", i+1, s.Summary, time.UnixMilli(s.Timestamp).Format("01-02 15:04"))
		}
	}

	stateWidth := int(float64(m.width) * 0.28)
	return stateStyle.Width(stateWidth).Height(m.viewport.Height).Render(b.String())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (m *model) refreshLog() {
	if m.viewport.Width == 0 {
		return
	}
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
}

func (m model) renderLog() string {
	width := m.viewport.Width
	var b strings.Builder
	for i, scene := range m.view.History {
		b.WriteString(gameStyle.Width(width).Render(scene.Narrative) + "\n")
		if scene.Dialogue != "" {
			b.WriteString("\n" + speakerStyle.Render(scene.SpeakerName) + " " + gameStyle.Width(width).Render("「"+scene.Dialogue+"」") + "\n")
		}
		last := i == len(m.view.History)-1
		if scene.UserChoice != "" {
			b.WriteString("\n" + userStyle.Width(width).Render("> "+scene.UserChoice) + "\n\n")
		} else if last && !scene.IsGameOver {
			b.WriteString("\n")
			for n, opt := range scene.Options {
				b.WriteString(optionStyle.Render(fmt.Sprintf("%d. %s", n+1, opt.Label)) + "\n")
			}
		}
		if last && scene.IsGameOver {
			b.WriteString("\n" + titleStyle.Render("THE END") + "\n")
		}
	}
	return b.String()
}

func (m model) generateWorld() tea.Cmd {
	req := models.WorldSettingRequest{
		Theme:       m.setup.Theme,
		Setting:     m.setup.Setting,
		Style:       m.setup.Style,
		Protagonist: m.setup.Protagonist,
	}
	return func() tea.Msg {
		world, err := m.ctrl.GenerateWorldSetting(context.Background(), req)
		return worldGeneratedMsg{world, err}
	}
}

func (m model) listSaves() tea.Cmd {
	return func() tea.Msg {
		listing, err := m.ctrl.ListSaves(context.Background())
		if err != nil {
			return actionDoneMsg{err: err}
		}
		notice := fmt.Sprintf("%d saves", len(listing.Saves))
		if n := len(listing.Corrupted); n > 0 {
			notice += fmt.Sprintf(", %d unreadable", n)
		}
		return actionDoneMsg{notice: notice, saves: listing.Saves}
	}
}

func (m model) switchProvider(name string) (string, error) {
	p, err := models.ParseProvider(name)
	if err != nil {
		return "", err
	}
	if err := m.ctrl.SwitchProvider(p); err != nil {
		return "", err
	}
	return "Provider: " + string(p), nil
}

func (m model) run(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		notice, err := fn(context.Background())
		return actionDoneMsg{notice: notice, err: err}
	}
}

// Run blocks until the player exits. Controller changes are pushed into
// the program as they happen.
func Run(ctrl *session.Controller) error {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
	cancel := ctrl.Subscribe(func(v session.View) { p.Send(viewMsg{v}) })
	defer cancel()
	_, err := p.Run()
	return err
}
