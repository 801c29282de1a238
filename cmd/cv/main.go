package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conclave/internal/app"
	"conclave/internal/config"
	"conclave/internal/db"
	"conclave/internal/domain"
	"conclave/internal/engine"
	"conclave/internal/migrate"
	"conclave/internal/repo"
	"conclave/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cv",
	Short: "Conclave CLI",
	Long: `Conclave builds Commander decks with a council of scoring agents.
- Workspace: a .conclave directory holding the card pool and deck database.
- Pool: imported cards, classified by role at import time.
- Council: configured agents that rank candidates each round; votes are
  aggregated per conclave.yml.
- Training: pairwise preferences that retrain the synergy model.
- Event log: every round, commit, and retrain, view with 'cv log tail'.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("CONCLAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(poolCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(deckCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(councilCmd())
	rootCmd.AddCommand(trainingCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			fmt.Printf("workspace ready at %s\n", db.Path(workspace))
			return nil
		},
	}
}

func poolCmd() *cobra.Command {
	pool := &cobra.Command{Use: "pool", Short: "Manage the card pool"}
	pool.AddCommand(poolImportCmd())
	pool.AddCommand(poolStatsCmd())
	return pool
}

func poolImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import cards from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				count, err := e.ImportCards(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"imported": count})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array of cards")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func poolStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Pool size",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Repo.CountCards(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"cards": n})
			})
		},
	}
}

func generateCmd() *cobra.Command {
	var commander string
	var seeds, include, exclude []string
	var maxTotal, cardCap float64
	var power, theme, budget, consistency, novelty float64
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a deck",
		RunE: func(cmd *cobra.Command, args []string) error {
			brief := domain.DeckBrief{
				Commander: commander,
				Seeds:     seeds,
				Objectives: domain.ObjectiveWeights{
					Power:       power,
					Theme:       theme,
					Budget:      budget,
					Consistency: consistency,
					Novelty:     novelty,
				},
				Constraints: domain.DeckConstraints{
					MustInclude: include,
					MustExclude: exclude,
				},
			}
			if cmd.Flags().Changed("max-total-price") {
				brief.Constraints.MaxTotalPriceUSD = &maxTotal
			}
			if cmd.Flags().Changed("card-price-cap") {
				brief.Constraints.CardPriceCapUSD = &cardCap
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.Generate(ctx, brief, nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				rows, err := e.Repo.ListDeckCards(ctx, result.DeckID)
				if err != nil {
					return err
				}
				fmt.Printf("deck %s (trace %s)\n", result.DeckID, result.TraceID)
				renderDeckTable(result.Commander, rows)
				if len(result.EmptyRounds) > 0 {
					for _, round := range result.EmptyRounds {
						fmt.Printf("round %d (%s): no eligible candidates for %d slots\n", round.Round, round.Role, round.Requested)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&commander, "commander", "", "commander card name")
	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "seed card name (repeatable)")
	cmd.Flags().StringArrayVar(&include, "include", nil, "must-include card name (repeatable)")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "must-exclude card name (repeatable)")
	cmd.Flags().Float64Var(&maxTotal, "max-total-price", 0, "max total deck price in USD")
	cmd.Flags().Float64Var(&cardCap, "card-price-cap", 0, "max single card price in USD")
	cmd.Flags().Float64Var(&power, "power", 0.5, "power objective weight")
	cmd.Flags().Float64Var(&theme, "theme", 0.5, "theme objective weight")
	cmd.Flags().Float64Var(&budget, "budget", 0.5, "budget objective weight")
	cmd.Flags().Float64Var(&consistency, "consistency", 0.5, "consistency objective weight")
	cmd.Flags().Float64Var(&novelty, "novelty", 0.0, "novelty objective weight")
	_ = cmd.MarkFlagRequired("commander")
	return cmd
}

func deckCmd() *cobra.Command {
	deck := &cobra.Command{Use: "deck", Short: "Inspect generated decks"}
	deck.AddCommand(deckListCmd())
	deck.AddCommand(deckShowCmd())
	return deck
}

func deckListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				decks, err := e.Repo.ListDecks(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(decks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Commander", "Created", "Trace"})
				for _, d := range decks {
					tw.AppendRow(table.Row{d.DeckID, d.Commander, d.CreatedAt, d.TraceID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max decks")
	return cmd
}

func deckShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <deck-id>",
		Short: "Show a deck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.Repo.GetDeck(ctx, args[0])
				if err != nil {
					return err
				}
				rows, err := e.Repo.ListDeckCards(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deck": result, "cards": rows})
				}
				renderDeckTable(result.Commander, rows)
				m := result.Metrics
				fmt.Printf("coherence: purity %.2f, concentration %.2f, synergy ratio %.2f\n",
					m.ArchetypePurity, m.IdentityConcentration, m.SynergyRatio)
				return nil
			})
		},
	}
	return cmd
}

func scoreCmd() *cobra.Command {
	var deckID, card string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a card against a deck",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				breakdown, err := e.ScoreCard(ctx, deckID, card)
				if err != nil {
					return err
				}
				return printJSONOrTable(breakdown)
			})
		},
	}
	cmd.Flags().StringVar(&deckID, "deck", "", "deck id")
	cmd.Flags().StringVar(&card, "card", "", "card name")
	_ = cmd.MarkFlagRequired("deck")
	_ = cmd.MarkFlagRequired("card")
	return cmd
}

func councilCmd() *cobra.Command {
	council := &cobra.Command{Use: "council", Short: "Council configuration"}
	cfg := &cobra.Command{Use: "config", Short: "Manage council config"}
	cfg.AddCommand(councilConfigShowCmd())
	cfg.AddCommand(councilConfigImportCmd())
	council.AddCommand(cfg)
	return council
}

func councilConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			data, err := os.ReadFile(config.Path(workspace))
			if os.IsNotExist(err) {
				fmt.Print(config.GenerateDefault())
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func councilConfigImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate and install a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if _, err := config.FromYAML(data); err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			if err := os.WriteFile(config.Path(workspace), data, 0o644); err != nil {
				return err
			}
			fmt.Printf("installed %s\n", config.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func trainingCmd() *cobra.Command {
	training := &cobra.Command{Use: "training", Short: "Preference training"}
	training.AddCommand(trainingIngestCmd())
	training.AddCommand(trainingTrainCmd())
	training.AddCommand(trainingStatsCmd())
	return training
}

func trainingIngestCmd() *cobra.Command {
	var cardA, cardB, note string
	var preference int
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Record one pairwise preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pref, err := e.IngestPreference(ctx, domain.PairwisePreference{
					CardAID:    cardA,
					CardBID:    cardB,
					Preference: preference,
					Context:    note,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(pref)
			})
		},
	}
	cmd.Flags().StringVar(&cardA, "card-a", "", "card A id")
	cmd.Flags().StringVar(&cardB, "card-b", "", "card B id")
	cmd.Flags().IntVar(&preference, "preference", 0, "judgment from -2 (B much better) to 2 (A much better)")
	cmd.Flags().StringVar(&note, "context", "", "free-form context note")
	_ = cmd.MarkFlagRequired("card-a")
	_ = cmd.MarkFlagRequired("card-b")
	return cmd
}

func trainingTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Retrain the synergy model from all preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				model, err := e.TrainModel(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"version": model.Version,
					"samples": model.Samples,
				})
			})
		},
	}
}

func trainingStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Training statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var traceID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListEvents(ctx, traceID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&traceID, "trace", "", "trace id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			appCtx, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer appCtx.Close()
			handler, err := server.New(server.Config{
				Engine:    appCtx.Engine,
				Workspace: workspace,
				BasePath:  basePath,
				Auth:      server.AuthConfig{JWTSecret: os.Getenv("CONCLAVE_JWT_SECRET")},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Conclave API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	appCtx, err := app.Open(workspace)
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func renderDeckTable(commander string, rows []repo.DeckCardRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Card", "Role", "Qty"})
	tw.AppendRow(table.Row{0, commander + " (commander)", "commander", 1})
	for _, row := range rows {
		tw.AppendRow(table.Row{row.Position, row.CardName, row.Role, row.Quantity})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
