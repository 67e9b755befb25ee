package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/chat"
	"github.com/concord-chat/chatsync/internal/config"
	"github.com/concord-chat/chatsync/internal/logging"
	"github.com/concord-chat/chatsync/internal/protocol"
	"github.com/concord-chat/chatsync/internal/realtime"
	"github.com/concord-chat/chatsync/internal/themes"
	"github.com/concord-chat/chatsync/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	serverAddr := flag.String("server", "", "Realtime base URL (overrides config)")
	themeName := flag.String("theme", "", "Theme name (overrides config)")
	writeConfig := flag.String("write-config", "", "Write the effective configuration to this path and exit")
	flag.Parse()

	if *configPath == "" {
		*configPath = config.Find()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Apply command line overrides
	if *serverAddr != "" {
		cfg.Server.BaseURL = *serverAddr
	}
	if *themeName != "" {
		cfg.Theme = *themeName
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := config.Save(*writeConfig, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *writeConfig)
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// the terminal belongs to the UI, so logs only go to a file
	log, closer, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer closer.Close()

	theme, err := themes.GetTheme(cfg.ThemesDir, cfg.Theme)
	if err != nil {
		log.Warn().Err(err).Str("theme", cfg.Theme).Msg("failed to load theme, using default")
		theme = themes.GetDefaultTheme()
	}

	mux := realtime.New(
		realtime.WithLogger(log),
		realtime.WithHeartbeat(cfg.Realtime.HeartbeatInterval.Duration),
		realtime.WithHandshakeTimeout(cfg.Realtime.HandshakeTimeout.Duration),
		realtime.WithCloseWait(cfg.Realtime.CloseWait.Duration),
	)
	if err := mux.Init(cfg.Server.BaseURL, cfg.Server.Token); err != nil {
		return err
	}
	defer mux.Dispose()

	if cfg.Realtime.Reconnect {
		r := realtime.NewReconnector(mux, realtime.DefaultReconnectStrategy(), log)
		defer r.Close()
	}

	outbox, err := chat.ParseOutboxPolicy(cfg.Chat.Outbox)
	if err != nil {
		return err
	}

	var history chat.HistoryLoader
	if cfg.Server.APIURL != "" {
		h, err := chat.NewHTTPHistory(cfg.Server.APIURL, cfg.Server.Token, cfg.Chat.HistoryTimeout.Duration)
		if err != nil {
			return err
		}
		history = h
	}

	loop := chat.NewLoop()
	session := chat.NewSession(mux, loop, chat.Config{
		SelfID:              cfg.User.ID,
		SelfName:            cfg.User.Name,
		TypingTimeout:       cfg.Chat.TypingTimeout.Duration,
		NearBottomThreshold: cfg.Chat.NearBottomThreshold,
		Outbox:              outbox,
		History:             history,
		HistoryTimeout:      cfg.Chat.HistoryTimeout.Duration,
		Logger:              log,
	})

	app := tui.NewApp(session, cfg.User.ID, conversations(cfg))
	app.SetTheme(theme)
	app.UseThemes(cfg.ThemesDir, cfg.Theme)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logStart(log, cfg)
	return tui.Run(ctx, app, loop,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
}

func conversations(cfg *config.Config) []chat.Conversation {
	out := make([]chat.Conversation, 0, len(cfg.Conversations))
	for _, c := range cfg.Conversations {
		out = append(out, chat.Conversation{
			ID:     protocol.ConversationID(c.ID),
			PeerID: c.PeerID,
			Title:  c.Title,
		})
	}
	return out
}

func logStart(log zerolog.Logger, cfg *config.Config) {
	log.Info().
		Str("base_url", cfg.Server.BaseURL).
		Int64("user", cfg.User.ID).
		Int("conversations", len(cfg.Conversations)).
		Bool("reconnect", cfg.Realtime.Reconnect).
		Msg("client starting")
}
