package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/app"
	"github.com/phototheology/palace/internal/deck"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedFlags struct {
	topic   string
	mode    string
	players []string
	hand    int
}

// seedCmd creates a game for local runs. Real games are created by the product
// that embeds the judge.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a development game with dealt hands",
	Long: `Creates an active game with the named players in join order, each dealt
--hand random principle cards. Names containing "jeeves" are AI players.

Example:
  palacectl seed --topic "Genesis 22" --mode 1v1-jeeves --players Ruth,Jeeves`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := models.GameMode(seedFlags.mode)
		if !mode.Valid() {
			return fmt.Errorf("unknown mode %q", seedFlags.mode)
		}
		if len(seedFlags.players) < 2 {
			return fmt.Errorf("a game needs at least two players")
		}
		if seedFlags.hand < 1 {
			return fmt.Errorf("--hand must be at least 1")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver == "memory" {
			return fmt.Errorf("the memory store forgets the game on exit; set DB_DRIVER")
		}
		st, _, err := app.OpenStore(cmd.Context(), cfg.Database, serviceLogger(cfg))
		if err != nil {
			return err
		}
		defer st.Close()
		seeder, ok := st.(store.Seeder)
		if !ok {
			return fmt.Errorf("store %s cannot seed games", cfg.Database.Driver)
		}

		g, players, hands := dealGame(seedFlags.topic, mode, seedFlags.players, seedFlags.hand, deck.NewDealer(nil))
		if err := seeder.SeedGame(cmd.Context(), g, players, hands); err != nil {
			return err
		}
		logger.Info("game seeded", zap.String("game", g.ID.String()), zap.Int("players", len(players)))

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "game %s\n", g.ID)
		for _, p := range players {
			kind := "human"
			if p.IsAI() {
				kind = "ai"
			}
			fmt.Fprintf(out, "  %s %s (%s)\n", p.ID, p.DisplayName, kind)
		}
		return nil
	},
}

func dealGame(topic string, mode models.GameMode, names []string, hand int, dealer *deck.Dealer) (*models.Game, []*models.Player, []*models.CardDraw) {
	g := &models.Game{ID: uuid.New(), Topic: topic, Mode: mode, Status: models.GameActive}
	var players []*models.Player
	var hands []*models.CardDraw
	for i, name := range names {
		p := &models.Player{ID: uuid.New(), GameID: g.ID, DisplayName: name, JoinOrder: i, CardsRemaining: hand}
		players = append(players, p)
		for c := 0; c < hand; c++ {
			card := dealer.Draw()
			hands = append(hands, &models.CardDraw{GameID: g.ID, PlayerID: p.ID, CardType: card.Type, CardData: card.Payload()})
		}
	}
	g.CurrentTurnPlayerID = &players[0].ID
	return g, players, hands
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedFlags.topic, "topic", "Genesis 22", "study topic")
	f.StringVar(&seedFlags.mode, "mode", string(models.ModeOneVsJeeves), "game mode")
	f.StringSliceVar(&seedFlags.players, "players", []string{"Player", "Jeeves"}, "display names in join order")
	f.IntVar(&seedFlags.hand, "hand", 5, "cards dealt to each player")
}
