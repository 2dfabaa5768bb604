// Package main provides the colloquy CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/colloquy/cli"
	"github.com/richinex/colloquy/config"
	"github.com/richinex/colloquy/storage"
	"github.com/richinex/colloquy/tools"
)

var (
	// Global flags
	provider string
	model    string
	backend  string
	dbPath   string
	chatID   string
	stream   bool
	noColor  bool
	verbose  bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:   "colloquy",
		Short: "Chat with LLMs, from a single prompt to routed multi-agent teams",
		Long: `A CLI tool for chatting with LLMs through progressively richer techniques.

Conversations are persisted per chat id and can be resumed with --chat-id:
- prompt, chat: a single prompt and an in-memory chat
- history, tools, agent: persisted chats, with web search for the latter two
- supervisor: a supervisor delegating to research, calculator and writer agents
- route, memory: a router picking a research or math team, optionally with context memory`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "openai", "LLM provider (openai, groq, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model override (defaults to <PROVIDER>_MODEL or the provider default)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend (sqlite, bolt, memory); defaults to CHAT_BACKEND")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path; defaults to CHAT_DB_PATH")
	rootCmd.PersistentFlags().StringVarP(&chatID, "chat-id", "c", "", "Conversation to resume")
	rootCmd.PersistentFlags().BoolVarP(&stream, "stream", "s", false, "Stream assistant replies")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(
		chatCmd("prompt", "Send a single prompt", (*cli.Runner).Prompt),
		chatCmd("chat", "Chat in memory, forgotten on exit", (*cli.Runner).Chat),
		chatCmd("history", "Chat with persisted history", (*cli.Runner).History),
		chatCmd("tools", "Chat with a web search tool", (*cli.Runner).Tools),
		chatCmd("agent", "Chat with a tool-calling agent", (*cli.Runner).Agent),
		chatCmd("supervisor", "Chat with a supervisor over research, calculator and writer agents", (*cli.Runner).Supervisor),
		chatCmd("route", "Chat with a router picking the research or math team", (*cli.Runner).Route),
		chatCmd("memory", "Routed chat over recent messages with context memory", (*cli.Runner).Memory),
		sessionsCmd(),
		listToolsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadSettings applies flag overrides on top of the environment.
func loadSettings() (config.Settings, error) {
	if backend != "" {
		os.Setenv(config.KeyBackend, backend)
	}
	if dbPath != "" {
		os.Setenv(config.KeyDBPath, dbPath)
	}
	settings, err := config.New(provider)
	if err != nil {
		return config.Settings{}, err
	}
	if model != "" {
		settings.LLM.Model = model
	}
	return settings, nil
}

func newLogger(settings config.Settings) (*slog.Logger, error) {
	level, err := settings.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func palette() cli.Palette {
	if noColor {
		return cli.PlainPalette()
	}
	return cli.DefaultPalette()
}

// chatCmd builds a command that runs one driver until the user quits.
func chatCmd(use, short string, run func(*cli.Runner, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			logger, err := newLogger(settings)
			if err != nil {
				return err
			}
			client, err := cli.CreateClient(settings)
			if err != nil {
				return err
			}

			var store storage.ConversationStore
			if use != "prompt" && use != "chat" {
				if store, err = cli.OpenStore(settings); err != nil {
					return err
				}
				defer store.Close()
			}

			runner, err := cli.NewRunner(cli.Deps{
				Client:   client,
				Store:    store,
				Settings: settings,
				In:       os.Stdin,
				Out:      os.Stdout,
				Palette:  palette(),
				Stream:   stream,
				ChatID:   chatID,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			return run(runner, ctx)
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := cli.OpenStore(settings)
			if err != nil {
				return err
			}
			defer store.Close()

			return cli.ListSessions(cmd.Context(), os.Stdout, palette(), store)
		},
	}
}

func listToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := tools.WithDefaults(os.Getenv(config.KeySearchAPIKey))
			if err != nil {
				return err
			}
			cli.ListTools(os.Stdout, registry, verbose)
			return nil
		},
	}
}
