package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/tatianab/storyloom/internal/app"
	"github.com/tatianab/storyloom/internal/config"
	"github.com/tatianab/storyloom/internal/logging"
	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/session"
)

func main() {
	maxTurns := flag.Int("turns", 10, "turns to play before stopping")
	save := flag.Bool("save", true, "save the session when done")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Gemini.APIKey == "" {
		log.Fatal("GEMINI_API_KEY is required for the player model")
	}

	// The storyteller, on whichever provider is configured.
	a, err := app.Build(ctx, cfg, logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr))
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}
	defer a.Close()
	ctrl := a.Controller

	// The player is always Gemini.
	playerClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		log.Fatalf("Failed to create player client: %v", err)
	}
	defer playerClient.Close()
	player := playerClient.GenerativeModel("gemini-2.5-flash")

	fmt.Println("--- Step 1: Requesting a theme from the Player LLM ---")
	theme := ask(ctx, player, "You are about to play a Chinese-language interactive fiction game. Suggest a short, creative theme (e.g. '蒸汽朋克水下城市', '猫的黑色侦探世界'). Return ONLY the theme.", "奇幻冒险")
	fmt.Printf("Player chose theme: %s\n\n", theme)

	fmt.Println("--- Step 2: Generating World ---")
	world, err := ctrl.GenerateWorldSetting(ctx, models.WorldSettingRequest{Theme: theme, Style: "沉浸"})
	if err != nil {
		log.Fatalf("Failed to generate world: %v", err)
	}
	fmt.Printf("Setting: %s\nProtagonist: %s\n\n", world.Setting, world.Protagonist)

	if err := ctrl.Start(ctx, models.GameConfig{Theme: theme, Setting: world.Setting, Protagonist: world.Protagonist, Style: "沉浸"}); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	if !settle(ctx, ctrl) {
		log.Fatal("Opening scene failed twice, giving up")
	}

	for turn := 1; turn <= *maxTurns; turn++ {
		v := ctrl.View()
		scene, _ := v.Current()
		printScene(turn, scene, v)
		if v.Phase == session.PhaseGameOver {
			fmt.Println("Game Ended.")
			break
		}

		opt := pickOption(ctx, player, v)
		fmt.Printf("Player Action: %s\n\n", opt.Action)
		if err := ctrl.Choose(ctx, opt); err != nil {
			fmt.Printf("Error processing turn: %v\n", err)
			break
		}
		if !settle(ctx, ctrl) {
			fmt.Println("Turn failed twice, stopping.")
			break
		}
	}

	if *save {
		meta, err := ctrl.Save(ctx)
		if err != nil {
			log.Fatalf("Failed to save: %v", err)
		}
		fmt.Printf("Saved as %s (%s)\n", meta.ID, meta.Summary)
	}
}

// settle retries a failed turn once.
func settle(ctx context.Context, ctrl *session.Controller) bool {
	v := ctrl.View()
	if v.Error == "" {
		return true
	}
	fmt.Printf("Turn failed: %s\nRetrying...\n", v.Error)
	if err := ctrl.Retry(ctx); err != nil {
		return false
	}
	return ctrl.View().Error == ""
}

func printScene(turn int, scene models.GameScene, v session.View) {
	fmt.Printf("--- Turn %d (%s, %s) ---\n", turn, scene.CurrentLocation, scene.CurrentTime)
	fmt.Println(scene.Narrative)
	if scene.Dialogue != "" {
		fmt.Printf("%s: 「%s」\n", scene.SpeakerName, scene.Dialogue)
	}
	for i, opt := range scene.Options {
		fmt.Printf("  %d. %s\n", i+1, opt.Label)
	}
	if len(scene.GrantedItems) > 0 {
		fmt.Printf("Granted: %v\n", scene.GrantedItems)
	}
	var names []string
	for _, item := range v.Inventory {
		names = append(names, item.Name)
	}
	fmt.Printf("Inventory: %v\n", names)
}

func pickOption(ctx context.Context, player *genai.GenerativeModel, v session.View) models.GameOption {
	scene, _ := v.Current()
	var history strings.Builder
	for _, s := range v.History {
		history.WriteString(s.Narrative + "\n")
		if s.UserChoice != "" {
			history.WriteString("> " + s.UserChoice + "\n")
		}
	}
	var options strings.Builder
	for i, opt := range scene.Options {
		fmt.Fprintf(&options, "%d. %s\n", i+1, opt.Label)
	}

	prompt := fmt.Sprintf(`You are playing an interactive fiction game.

Story so far:
%s
Options:
%s
Reply with ONLY the number of the option you pick, or a short first-person action in Chinese if none appeals.`, history.String(), options.String())

	answer := ask(ctx, player, prompt, "1")
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(scene.Options) {
		return scene.Options[n-1]
	}
	return models.CustomOption(answer)
}

func ask(ctx context.Context, model *genai.GenerativeModel, prompt, fallback string) string {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return fallback
	}
	answer := strings.TrimSpace(fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0]))
	if answer == "" {
		return fallback
	}
	return answer
}
