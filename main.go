package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"parley/src"
	"parley/src/llm"
	"parley/src/llm/chat"
	"parley/src/llm/delta"
	"parley/src/llm/summary"
	"parley/src/logger"
	"parley/src/model"
	"parley/src/repository"
	"parley/src/session"
	"parley/src/state"
	"parley/src/storage"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine, the environment may already carry the configuration
	_ = godotenv.Load()

	config, err := src.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(config.LogConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		logger.Error().Err(err).Msg("Fatal error")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *src.Config) error {
	store, err := storage.Open(ctx, config.StoreConfig)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer store.Close()

	persister := state.NewPersister(store)
	st, err := persister.Load(ctx)
	if err != nil {
		return err
	}

	if err := seedRoster(st, config.SessionConfig.RosterFile); err != nil {
		return err
	}

	chatModel, err := llm.NewChatModel(ctx, config.LLMConfig)
	if err != nil {
		return fmt.Errorf("error creating chat model: %w", err)
	}

	turns := config.SessionConfig.HistoryTurns
	var opts []session.Option
	if config.SessionConfig.SummarizeOnCommit {
		opts = append(opts, session.WithSummarizer(summary.NewSummarizer(chatModel, turns)))
	}
	manager := session.NewManager(st, persister,
		chat.NewResponder(chatModel, config.LLMConfig.Temperature, turns),
		delta.NewGenerator(chatModel, config.LLMConfig.DeltaTemperature, turns),
		config.SessionConfig,
		opts...,
	)
	defer manager.Close()

	logger.Info().
		Str("provider", config.LLMConfig.Provider).
		Str("model", config.LLMConfig.Model).
		Str("store", config.StoreConfig.Backend).
		Msg("Parley started")

	r := &repl{
		ctx:     ctx,
		manager: manager,
		in:      bufio.NewScanner(os.Stdin),
		out:     os.Stdout,
	}
	return r.loop()
}

// seedRoster imports the roster file into an empty repository.
func seedRoster(st *model.AppState, path string) error {
	if len(st.Characters) > 0 || len(st.PlayerPersonas) > 0 {
		return nil
	}
	roster, err := src.LoadRoster(path)
	if err != nil {
		return err
	}

	repo := repository.New(st)
	for _, c := range roster.Characters {
		if !c.Preferences.Orientation.Valid() {
			logger.Warn().Str("character_id", c.ID).Str("orientation", string(c.Preferences.Orientation)).Msg("Unknown orientation, leaving it unspecified")
			c.Preferences.Orientation = ""
		}
		repo.AddCharacter(c)
	}
	for _, p := range roster.Personas {
		repo.AddPersona(p)
	}
	logger.Info().
		Int("characters", len(roster.Characters)).
		Int("personas", len(roster.Personas)).
		Str("path", path).
		Msg("Roster imported")
	return nil
}
