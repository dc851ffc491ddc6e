package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"doc-assistant/internal/config"
	"doc-assistant/internal/helper"
	"doc-assistant/internal/history"
	"doc-assistant/internal/news"
	"doc-assistant/internal/rag"
	"doc-assistant/internal/server"
	"doc-assistant/internal/store"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	configPath string
	sessionID  string
	cfg        *config.Config
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "doc-assistant",
		Short:         "Ask questions about your documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			setupLogger(&cfg.Log)
			log.Debug().Str("config", configPath).Str("vector_store", cfg.VectorStore.Type).Msg("Loaded config")
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the config file")
	root.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "conversation session id")

	root.AddCommand(serveCmd(), ingestCmd(), askCmd(), searchCmd(), filesCmd(), deleteCmd(), resetCmd())
	return root
}

// logs go to stderr so answers on stdout stay clean
func setupLogger(lc *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// withApp wires the components, runs fn and releases them again.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(a *app) error {
				return server.New(a.rag, news.New(&cfg.News), &cfg.Server).Run(ctx)
			})
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract, chunk, embed and store documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]rag.File, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("error reading %s: %w", path, err)
				}
				files = append(files, rag.File{Name: path, Data: data})
			}
			return withApp(cmd.Context(), func(a *app) error {
				helper.PrettyPrint(cmd.OutOrStdout(), a.rag.IngestFiles(cmd.Context(), history.SessionKey(sessionID), files))
				return nil
			})
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the stored documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				route, answer := a.rag.Ask(cmd.Context(), history.SessionKey(sessionID), args[0])
				log.Info().Str("route", route.Name()).Msg("Answering")
				out := cmd.OutOrStdout()
				for fragment := range answer {
					fmt.Fprint(out, fragment)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

// searchCmd prints the retrieved chunks and their scores, for checking
// rag.relevance_threshold against real documents.
func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <question>",
		Short: "Show retrieval scores for a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				helper.PrettyPrint(cmd.OutOrStdout(), a.rag.Retrieve(cmd.Context(), args[0]))
				return nil
			})
		},
	}
}

func filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List stored sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				sources, err := a.rag.ListSources(cmd.Context())
				if err != nil {
					return err
				}
				helper.PrettyPrint(cmd.OutOrStdout(), sources)
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source_name>",
		Short: "Delete every chunk of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.rag.DeleteSource(cmd.Context(), args[0]); err != nil {
					return err
				}
				log.Info().Str("source", args[0]).Msg("Deleted source")
				return nil
			})
		},
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop all stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to drop all documents without --yes")
			}
			return withApp(cmd.Context(), func(a *app) error {
				r, ok := a.store.(store.Resetter)
				if !ok {
					return fmt.Errorf("vector store %q cannot be reset", cfg.VectorStore.Type)
				}
				if err := r.Reset(cmd.Context()); err != nil {
					return err
				}
				log.Info().Msg("Dropped all documents")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping every stored document")
	return cmd
}
