// AutoDealGenie negotiation chat client
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/Raviteja77/autodealgenie-sub000/internal/api"
	"github.com/Raviteja77/autodealgenie-sub000/internal/config"
	"github.com/Raviteja77/autodealgenie-sub000/internal/history"
	"github.com/Raviteja77/autodealgenie-sub000/internal/negotiation"
	"github.com/Raviteja77/autodealgenie-sub000/internal/tui"
)

func main() {
	// No .env file is fine; environment variables still apply.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to a file.
	logFile, err := openLogFile(cfg.LogPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to open log file:", err)
		os.Exit(1)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if cfg.SessionID == 0 {
		fmt.Fprintln(os.Stderr, "SESSION_ID must be set to an active negotiation session")
		os.Exit(1)
	}

	slog.Info("Starting negotiation client", "api", cfg.APIBaseURL, "session_id", cfg.SessionID)

	var cache history.Repository
	if cfg.HistoryDBPath != "" {
		cache, err = history.NewSQLite(cfg.HistoryDBPath)
		if err != nil {
			slog.Warn("History cache unavailable, continuing without it", "error", err)
			cache = nil
		} else {
			defer func() {
				if closeErr := cache.Close(); closeErr != nil {
					slog.Error("Failed to close history cache", "error", closeErr)
				}
			}()
		}
	}

	client := api.NewClient(cfg.APIBaseURL)
	mgr := negotiation.NewManager(client, cache, negotiation.DefaultConfig())
	defer mgr.Disconnect()

	mgr.SetSessionID(cfg.SessionID)

	p := tea.NewProgram(tui.NewModel(mgr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		slog.Error("Chat UI failed", "error", err)
		os.Exit(1)
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
