package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"studybuddy/internal/chat"
	"studybuddy/internal/config"
	"studybuddy/internal/embedding"
	"studybuddy/internal/logging"
	"studybuddy/internal/ragcontext"
	"studybuddy/internal/retrieval"
	"studybuddy/internal/server"
	"studybuddy/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "studybuddy",
	Short: "StudyBuddy - streaming study assistant over your course materials",
	Long: `StudyBuddy answers questions about your own slides and lecture
transcripts. It retrieves relevant chunks with vector search, grounds a
Gemini response in them, and streams the answer with source citations
over server-sent events.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real env vars win either way
		_ = godotenv.Load()

		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize("."); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the StudyBuddy API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := store.NewLocalStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		engine, err := embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
			TaskType:       "RETRIEVAL_QUERY",
		})
		if err != nil {
			return fmt.Errorf("failed to create embedding engine: %w", err)
		}

		retriever := retrieval.New(st, engine, cfg.Retrieval.MaxResults)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner, err := chat.NewRunner(ctx, retriever, runnerConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to create chat runner: %w", err)
		}

		srv := server.New(cfg, st, runner, retriever)
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		return srv.ListenAndServe(ctx)
	},
}

// sessionsCmd inspects and manages stored sessions.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.ListSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, sess := range sessions {
			title := sess.Title
			if title == "" {
				title = "(untitled)"
			}
			count, _ := st.MessageCount(sess.ID)
			fmt.Printf("%s  %-40s  %d messages  updated %s\n",
				sess.ID, title, count, sess.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// sessionsDeleteCmd removes a session and everything it owns.
var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session with its messages and sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteSession(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore() (*store.LocalStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewLocalStore(cfg.Database.Path)
}

func runnerConfig(cfg *config.Config) chat.RunnerConfig {
	return chat.RunnerConfig{
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		TitleModel:      cfg.LLM.TitleModel,
		MaxOutputTokens: int32(cfg.LLM.MaxOutputTokens),
		Thinking:        cfg.LLM.Thinking,
		Ordering:        ragcontext.ParseOrdering(cfg.Retrieval.Ordering),
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(serveCmd, ingestCmd, sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
