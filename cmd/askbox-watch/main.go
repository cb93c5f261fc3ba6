// ABOUTME: Terminal watcher for the askbox event stream
// ABOUTME: Connects through the reconnecting client and prints colorized events as they arrive

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/askbox/askbox/internal/client"
	"github.com/askbox/askbox/internal/events"
	"github.com/askbox/askbox/internal/store"
)

var version = "dev"

// getConfigPath returns the path to the watcher config file.
// Priority: ASKBOX_WATCH_CONFIG env var > XDG_CONFIG_HOME/askbox/watch.toml > ~/.config/askbox/watch.toml
func getConfigPath() string {
	if envPath := os.Getenv("ASKBOX_WATCH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "watch.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "askbox", "watch.toml")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := Load(getConfigPath())
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gray := color.New(color.FgHiBlack)
	gray.Printf("askbox-watch %s — %s\n", version, cfg.Stream.URL)

	bus := client.NewBus(logger)
	state := client.NewSessionState(cfg.Stream.Handle)
	state.Register(bus)
	registerPrinters(bus)

	mgr := client.NewManager(cfg.Stream.URL, cfg.Stream.Token, bus, logger)
	defer mgr.Close()
	mgr.Start(ctx)

	<-mgr.Done()

	fmt.Println()
	gray.Printf("session: %d pending questions, %d answers seen, %d notifications\n",
		state.QuestionCount(), len(state.Answers()), len(state.Notifications()))

	if mgr.State().Terminal() {
		return fmt.Errorf("gave up after %d consecutive connection failures", mgr.State().Retries)
	}
	return nil
}

// registerPrinters subscribes one printing handler per event kind.
func registerPrinters(bus *client.Bus) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	bus.Subscribe(events.KindQuestionCreated, func(ev events.Event) {
		e := ev.(events.QuestionCreated)
		cyan.Printf("? new question for %s", e.QuestioneeHandle)
		gray.Printf(" (open: %d)\n", e.QuestionNumbers)
		fmt.Printf("  %s\n", e.Body)
	})

	bus.Subscribe(events.KindQuestionDeleted, func(ev events.Event) {
		e := ev.(events.QuestionDeleted)
		yellow.Printf("- question %d left %s's inbox", e.DeletedID, e.Handle)
		gray.Printf(" (open: %d)\n", e.QuestionNumbers)
	})

	bus.Subscribe(events.KindAnswerCreated, func(ev events.Event) {
		e := ev.(events.AnswerCreated)
		green.Printf("! %s answered", e.AnsweredPersonHandle)
		if e.NSFW {
			red.Print(" [nsfw]")
		}
		if e.HideFromMain {
			gray.Print(" (hidden from main)")
		}
		fmt.Println()
		fmt.Printf("  Q: %s\n", e.Question)
		fmt.Printf("  A: %s\n", e.Body)
	})

	bus.Subscribe(events.KindAnswerDeleted, func(ev events.Event) {
		e := ev.(events.AnswerDeleted)
		yellow.Printf("- answer %s deleted\n", e.DeletedID)
	})

	bus.Subscribe(events.KindNotification, func(ev events.Event) {
		e := ev.(events.Notification)
		switch e.Name {
		case store.NotificationReadAll:
			gray.Printf("* %s read all notifications\n", e.Handle)
		case store.NotificationDeleteAll:
			gray.Printf("* %s cleared all notifications\n", e.Handle)
		default:
			cyan.Printf("* notification for %s: %s", e.Handle, e.Name)
			if e.AnswerID != "" {
				gray.Printf(" (answer %s)", e.AnswerID)
			}
			fmt.Println()
		}
	})

	bus.Subscribe(events.KindKeepAlive, func(ev events.Event) {
		gray.Println(". keep-alive")
	})
}

func setupLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
