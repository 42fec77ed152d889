package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/app"
	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var judgeFlags struct {
	game        string
	player      string
	cardType    string
	card        string
	explanation string
	topic       string
	autoPlay    string
	combo       []string
}

// judgeCmd plays one move with service privileges, bypassing HTTP.
var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Judge one move directly against the store and model gateway",
	Long: `Plays a move as the service would for POST /api/judge, including any AI
turns that follow, and prints the result as JSON.

Examples:
  palacectl judge --game G --player P --card "Story Room" --explanation "..."
  palacectl judge --game G --auto-play JEEVES_PLAYER_ID`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := judgeRequestFromFlags()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := app.Build(cmd.Context(), cfg, serviceLogger(cfg))
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.Judge.Play(cmd.Context(), req)
		if err != nil {
			return err
		}
		logger.Info("move judged",
			zap.String("game", req.GameID.String()),
			zap.Int("move", res.MoveNumber),
			zap.String("verdict", string(res.Verdict)),
			zap.Int("points", res.TotalPoints),
			zap.Int("ai_moves", len(res.AIMoves)),
		)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func judgeRequestFromFlags() (judge.PlayRequest, error) {
	var req judge.PlayRequest
	gameID, err := uuid.Parse(judgeFlags.game)
	if err != nil {
		return req, fmt.Errorf("--game must be a UUID")
	}
	req.GameID = gameID
	req.StudyTopic = judgeFlags.topic

	if judgeFlags.autoPlay != "" {
		id, err := uuid.Parse(judgeFlags.autoPlay)
		if err != nil {
			return req, fmt.Errorf("--auto-play must be a UUID")
		}
		req.AutoPlayForPlayer = &id
		return req, nil
	}

	if req.PlayerID, err = uuid.Parse(judgeFlags.player); err != nil {
		return req, fmt.Errorf("--player must be a UUID")
	}
	if judgeFlags.card == "" || judgeFlags.explanation == "" {
		return req, fmt.Errorf("--card and --explanation are required unless --auto-play is set")
	}
	req.CardType = judgeFlags.cardType
	req.CardData = cardPayload(judgeFlags.card)
	req.Explanation = judgeFlags.explanation
	for _, c := range judgeFlags.combo {
		req.ComboCards = append(req.ComboCards, cardPayload(c))
	}
	req.IsCombo = len(req.ComboCards) > 0
	return req, nil
}

// cardPayload passes JSON through and wraps anything else as a principle name.
func cardPayload(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(map[string]string{"principle": s})
	return b
}

var ledgerGame string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print a game's moves in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gameID, err := uuid.Parse(ledgerGame)
		if err != nil {
			return fmt.Errorf("--game must be a UUID")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, _, err := app.OpenStore(cmd.Context(), cfg.Database, serviceLogger(cfg))
		if err != nil {
			return err
		}
		defer st.Close()

		players, err := st.ListPlayers(cmd.Context(), gameID)
		if err != nil {
			return err
		}
		moves, err := st.ListMoves(cmd.Context(), gameID)
		if err != nil {
			return err
		}
		names := make(map[uuid.UUID]string, len(players))
		for _, p := range players {
			names[p.ID] = p.DisplayName
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tPLAYER\tCARD\tVERDICT\tPOINTS")
		for _, m := range moves {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n",
				m.MoveNumber, names[m.PlayerID], models.CardLabel(m.CardData), m.Verdict, m.Points)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, p := range players {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: score %d, %d cards left\n", p.DisplayName, p.Score, p.CardsRemaining)
		}
		return nil
	},
}

func init() {
	f := judgeCmd.Flags()
	f.StringVar(&judgeFlags.game, "game", "", "game id")
	f.StringVar(&judgeFlags.player, "player", "", "acting player id")
	f.StringVar(&judgeFlags.cardType, "card-type", "principle", "card type")
	f.StringVar(&judgeFlags.card, "card", "", "card payload: JSON, or a principle name")
	f.StringVar(&judgeFlags.explanation, "explanation", "", "why the card fits the topic")
	f.StringVar(&judgeFlags.topic, "topic", "", "study topic; defaults to the game's")
	f.StringVar(&judgeFlags.autoPlay, "auto-play", "", "AI player id to generate a move for")
	f.StringSliceVar(&judgeFlags.combo, "combo", nil, "combo card payloads")

	ledgerCmd.Flags().StringVar(&ledgerGame, "game", "", "game id")
}
