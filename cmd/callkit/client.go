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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velora-app/callkit/internal/app"
	"github.com/velora-app/callkit/internal/call"
	"github.com/velora-app/callkit/internal/proto"
)

var (
	flagUsername string
	flagPassword string
	flagRegister bool
	flagFullName string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run an interactive call client",
	Long: `Logs in against the configured API, connects to signaling, and drives
calls from stdin. Commands: call <user-id>, accept, reject, end, status,
history, quit.`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().StringVar(&flagUsername, "user", "", "username")
	clientCmd.Flags().StringVar(&flagPassword, "password", "", "password")
	clientCmd.Flags().BoolVar(&flagRegister, "register", false, "register instead of logging in")
	clientCmd.Flags().StringVar(&flagFullName, "full-name", "", "display name used on registration")
	_ = clientCmd.MarkFlagRequired("user")
	_ = clientCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, userID, err := authenticate(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int64("user_id", userID).Msg("authenticated")

	application, err := app.New(cfg, userID, consolePresenter{}, nil, logger)
	if err != nil {
		return err
	}
	application.SetToken(token)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if runErr := application.Run(runCtx); runErr != nil {
			logger.Error().Err(runErr).Msg("app stopped")
		}
	}()

	fmt.Printf("Connected as user %d. Commands: call <user-id>, accept, reject, end, status, history, quit.\n", userID)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := dispatchCommand(ctx, application, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

func dispatchCommand(ctx context.Context, application *app.App, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "call":
		if len(fields) != 2 {
			return fmt.Errorf("usage: call <user-id>")
		}
		peerID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad user id %q", fields[1])
		}
		id, err := application.Orchestrator.StartCall(ctx, call.StartRequest{
			PeerID:   peerID,
			CallType: proto.CallTypeAudio,
		})
		if err != nil {
			return err
		}
		fmt.Printf("calling user %d, call id %s\n", peerID, id)
		return nil
	case "accept":
		return application.Orchestrator.Accept(ctx)
	case "reject":
		return application.Orchestrator.Reject(ctx)
	case "end":
		return application.Orchestrator.End(ctx)
	case "status":
		if s, ok := application.Orchestrator.Current(ctx); ok {
			fmt.Printf("call %s: %s %s with user %d\n", s.ID, s.Direction, s.Phase, s.PeerID)
		} else {
			fmt.Println("no active call")
		}
		return nil
	case "history":
		return printHistory(ctx, application)
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func printHistory(ctx context.Context, application *app.App) error {
	callLog := application.CallLog()
	if callLog == nil {
		return fmt.Errorf("no call log configured (set call_log_path)")
	}
	records, err := callLog.ListRecent(ctx, 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no calls yet")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%s  %-8s %-9s user %-6d %s\n",
			rec.EndedAt.Local().Format(time.DateTime),
			rec.Direction, rec.Outcome, rec.PeerID, rec.Duration.Round(time.Second))
	}
	return nil
}

// authenticate logs in (or registers) over REST and returns the bearer token
// and the authenticated user id.
func authenticate(ctx context.Context) (string, int64, error) {
	path := "/v1/auth/login"
	body := map[string]string{"username": flagUsername, "password": flagPassword}
	if flagRegister {
		path = "/v1/auth/register"
		body["fullName"] = flagFullName
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: cfg.HTTPTimeout}).Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", 0, fmt.Errorf("auth failed: %s (%d)", apiErr.Error, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	return out.Token, out.User.ID, nil
}

// consolePresenter renders navigation intents as terminal output.
type consolePresenter struct{}

func (consolePresenter) NavigateToCallScreen(s call.Session) {
	switch s.Direction {
	case call.Incoming:
		fmt.Printf("\nincoming %s call %s from %s (user %d) -- accept / reject\n",
			s.CallType, s.ID, s.PeerName, s.PeerID)
	default:
		fmt.Printf("\nringing user %d, call %s\n", s.PeerID, s.ID)
	}
}

func (consolePresenter) CloseCallScreen(id proto.CallID) {
	fmt.Printf("call %s closed\n", id)
}
