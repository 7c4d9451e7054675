package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/merge"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/status"
)

func main() {
	var (
		configPath string
		serverURL  string
		historyURL string
		room       string
		user       string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "wirechat-cli",
		Short: "Terminal chat client for WireChat",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)

			cfg, path, err := config.Load(logger, configPath)
			if err != nil {
				return err
			}
			logger.Debug().Str("path", path).Msg("config loaded")
			if cmd.Flags().Changed("server") {
				cfg.ServerURL = serverURL
			}
			if cmd.Flags().Changed("history") {
				cfg.HistoryURL = historyURL
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, room, user, logger)
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "WebSocket server URL")
	rootCmd.Flags().StringVar(&historyURL, "history", "", "history service base URL")
	rootCmd.Flags().StringVar(&room, "room", "general", "room to join")
	rootCmd.Flags().StringVar(&user, "user", "", "display name")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wirechat-cli: %v\n", err)
		os.Exit(1)
	}
}

type guestData struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// guestLogin requests a guest token from the backend.
func guestLogin(ctx context.Context, baseURL, username string) (guestData, error) {
	body, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return guestData{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, baseURL+"/api/guest", bytes.NewReader(body))
	if err != nil {
		return guestData{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return guestData{}, fmt.Errorf("guest login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return guestData{}, fmt.Errorf("guest login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Success bool      `json:"success"`
		Data    guestData `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return guestData{}, fmt.Errorf("guest login: decode response: %w", err)
	}
	if !out.Success || out.Data.Token == "" {
		return guestData{}, fmt.Errorf("guest login: server refused")
	}
	return out.Data, nil
}

func run(ctx context.Context, cfg config.Config, room, user string, logger *zerolog.Logger) error {
	guest, err := guestLogin(ctx, cfg.HistoryURL, user)
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", guest.Username, guest.UserID)

	s := session.New(cfg, auth.Static(guest.Token), session.Identity{
		UserID:   guest.UserID,
		Username: guest.Username,
	}, logger)

	current := room

	s.OnMessage(func(m merge.Message) {
		tag := ""
		if m.SenderID == guest.UserID {
			tag = " (you)"
		}
		fmt.Printf("[%s] %s%s: %s\n", m.RoomID, m.SenderName, tag, m.Content)
	})
	s.OnTyping(func(roomID string, typists []string) {
		if len(typists) > 0 {
			fmt.Printf("[%s] typing: %s\n", roomID, strings.Join(typists, ", "))
		}
	})
	unsubscribe := s.SubscribeState(func(ev status.StateEvent) {
		if ev.Err != nil {
			fmt.Printf("* connection: %s (%v)\n", ev.New, ev.Err)
			return
		}
		fmt.Printf("* connection: %s\n", ev.New)
	})
	defer unsubscribe()

	s.Start(ctx)
	defer s.Stop()

	s.Connect()
	s.Join(current)
	if err := s.LoadHistory(current, 1); err != nil {
		logger.Warn().Err(err).Str("room_id", current).Msg("history load failed")
	}
	for _, m := range s.Messages(current) {
		fmt.Printf("[%s] %s: %s\n", m.RoomID, m.SenderName, m.Content)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Printf("joined %s. /join <room>, /leave, /history, /quit\n", current)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			switch {
			case line == "/quit":
				return nil
			case strings.HasPrefix(line, "/join "):
				next := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
				if next == "" || next == current {
					continue
				}
				s.Leave(current)
				current = next
				s.Join(current)
				if err := s.LoadHistory(current, 1); err != nil {
					logger.Warn().Err(err).Str("room_id", current).Msg("history load failed")
				}
				fmt.Printf("joined %s\n", current)
			case line == "/leave":
				s.Leave(current)
				fmt.Printf("left %s\n", current)
			case line == "/history":
				if err := s.LoadHistory(current, 1); err != nil {
					fmt.Printf("history load failed: %v\n", err)
					continue
				}
				for _, m := range s.Messages(current) {
					fmt.Printf("[%s] %s: %s\n", m.RoomID, m.SenderName, m.Content)
				}
			case strings.HasPrefix(line, "/"):
				fmt.Printf("unknown command %q\n", line)
			default:
				s.StartTyping(current)
				s.Send(current, line, "text")
				s.StopTyping(current)
			}
		}
	}
}
