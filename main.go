// driftline is a keyboard-driven terminal client for a team chat service,
// paired with a locally-spawned AI assistant.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kaelindev/driftline/internal/assistant"
	"github.com/kaelindev/driftline/internal/commands"
	"github.com/kaelindev/driftline/internal/config"
	"github.com/kaelindev/driftline/internal/coordinator"
	"github.com/kaelindev/driftline/internal/eventstream"
	"github.com/kaelindev/driftline/internal/logging"
	"github.com/kaelindev/driftline/internal/model"
	"github.com/kaelindev/driftline/internal/oauthlogin"
	"github.com/kaelindev/driftline/internal/restclient"
	"github.com/kaelindev/driftline/internal/vault"
)

// Version information, set at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

var log = logging.Default("main")

func main() {
	cmd, args := "run", os.Args[1:]
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	var err error
	switch cmd {
	case "login":
		err = runLogin(args)
	case "logout":
		err = runLogout(args)
	case "status":
		err = runStatus(args)
	case "run":
		err = runClient(args)
	case "version":
		fmt.Printf("driftline %s (%s)\n", Version, GitCommit)
		return
	default:
		err = fmt.Errorf("unknown command %q (want login, logout, status, run)", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "driftline: %v\n", err)
		os.Exit(1)
	}
}

// runLogin walks the operator through the OAuth authorization-code flow
// and stores the resulting workspace credentials in the session vault. An
// app-level token still has to be pasted in by hand, since the chat
// service's OAuth grant only ever returns a bot token.
func runLogin(args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.ChatService.ClientID == "" || cfg.ChatService.ClientSecret == "" {
		path, _ := config.ConfigPath()
		return fmt.Errorf("chat_service.client_id and client_secret must be set before login (see %s)", path)
	}

	listener, err := oauthlogin.Start(cfg.ChatService.RedirectPort)
	if err != nil {
		return fmt.Errorf("start oauth callback listener: %w", err)
	}
	defer listener.Shutdown()

	exchanger := oauthlogin.NewExchanger(
		cfg.ChatService.ClientID, cfg.ChatService.ClientSecret, cfg.ChatService.RedirectPort,
		[]string{"channels:read", "chat:write", "users:read"},
	)

	authURL, _, err := exchanger.AuthCodeURL()
	if err != nil {
		return fmt.Errorf("build authorization url: %w", err)
	}

	fmt.Println("Open the following URL in a browser to authorize driftline:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()
	fmt.Println("Waiting for the redirect...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	code, err := listener.WaitForCode(ctx, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("await oauth callback: %w", err)
	}

	token, err := exchanger.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	client := restclient.New(token.AccessToken)
	teamID, teamName, err := client.TestAuth(ctx)
	if err != nil {
		return fmt.Errorf("verify granted token: %w", err)
	}

	fmt.Printf("Authorized workspace %q (%s).\n", teamName, teamID)
	fmt.Print("Paste the workspace's app-level token (xapp-...), or leave blank to skip: ")

	appToken, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	appToken = strings.TrimSpace(appToken)

	v, err := vault.Open()
	if err != nil {
		return fmt.Errorf("open session vault: %w", err)
	}

	sess, err := v.Load()
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			return fmt.Errorf("load existing session: %w", err)
		}
		sess = &model.Session{}
	}

	sess.AddWorkspace(model.Workspace{
		TeamID:   teamID,
		TeamName: teamName,
		BotToken: token.AccessToken,
		AppToken: appToken,
	})

	if err := v.Save(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	fmt.Println("Logged in.")
	return nil
}

func runLogout(args []string) error {
	v, err := vault.Open()
	if err != nil {
		return fmt.Errorf("open session vault: %w", err)
	}
	if err := v.Purge(); err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	fmt.Println("Session cleared.")
	return nil
}

func runStatus(args []string) error {
	v, err := vault.Open()
	if err != nil {
		return fmt.Errorf("open session vault: %w", err)
	}
	sess, err := v.Load()
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			fmt.Println("Not logged in.")
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	for _, ws := range sess.Workspaces {
		marker := " "
		if ws.Active {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s\n", marker, ws.TeamName, ws.TeamID)
	}
	if sess.AssistantBearer != "" {
		fmt.Println("assistant: paired")
	} else {
		fmt.Println("assistant: not paired")
	}
	return nil
}

// session holds everything the run loop needs that isn't already owned
// by the Coordinator.
type session struct {
	client *restclient.Client
	orch   *assistant.Orchestrator // nil if the assistant is not configured to auto-start
	ws     *model.Workspace
}

// runClient wires SessionVault, RestClient, EventStream, the assistant
// orchestrator, and Coordinator together and drives them from a plain
// line-oriented stdin/stdout loop. Rendering a full terminal UI against
// Coordinator's Subscribe feed is left to a dedicated front end; this is
// the minimal fallback that exercises every component end to end.
func runClient(args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v, err := vault.Open()
	if err != nil {
		return fmt.Errorf("open session vault: %w", err)
	}
	sess, err := v.Load()
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return fmt.Errorf("no session found, run 'driftline login' first")
		}
		return fmt.Errorf("load session: %w", err)
	}

	ws := sess.ActiveWorkspace()
	if ws == nil {
		return fmt.Errorf("no active workspace, run 'driftline login' first")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := restclient.New(ws.BotToken)

	var orch *assistant.Orchestrator
	if cfg.Assistant.AutoStart {
		orch = assistant.New(cfg.Assistant.BinaryPath, cfg.Assistant.GatewayPort)
		if err := startAssistant(ctx, orch, sess, v); err != nil {
			log.Warn("assistant unavailable: %v", err)
			orch.Shutdown()
			orch = nil
		} else {
			defer orch.Shutdown()
		}
	}

	stream := eventstream.New(client.OpenStreamURL)
	go stream.Run(ctx)

	coord := coordinator.New(sess)

	channels, err := client.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	coord.SetChannels(channels)
	if len(channels) > 0 {
		coord.SetActiveChannel(channels[0].ID)
		if history, err := client.GetHistory(ctx, channels[0].ID, 50); err != nil {
			log.Warn("load history for %s: %v", channels[0].ID, err)
		} else {
			coord.SetHistory(channels[0].ID, history)
		}
	}

	return runLoop(ctx, coord, stream, &session{client: client, orch: orch, ws: ws})
}

// startAssistant brings the assistant gateway up, reusing a stored
// pairing bearer when one exists and persisting a freshly negotiated one
// back to the vault.
func startAssistant(ctx context.Context, orch *assistant.Orchestrator, sess *model.Session, v *vault.SessionVault) error {
	if err := orch.CheckBinary(ctx); err != nil {
		return err
	}

	if sess.AssistantBearer != "" {
		if err := orch.StartWithBearer(ctx, sess.AssistantBearer); err == nil {
			return nil
		}
		log.Warn("stored assistant bearer rejected, re-pairing")
	}

	bearer, err := orch.StartAndPair(ctx)
	if err != nil {
		return err
	}
	sess.AssistantBearer = bearer
	if err := v.Save(sess); err != nil {
		log.Warn("persist assistant bearer: %v", err)
	}
	return nil
}

// runLoop drains stdin for user input and feeds it, alongside event-stream
// frames and background task completions, into the Coordinator's mailbox.
func runLoop(ctx context.Context, coord *coordinator.Coordinator, stream *eventstream.Stream, sess *session) error {
	completions := make(chan tea.Msg, 16)
	userInput := make(chan tea.Msg, 16)

	go coord.Run(ctx, userInput, []*eventstream.Stream{stream}, completions)

	updates := coord.Subscribe()
	go printUpdates(ctx, coord, updates)

	fmt.Println("Connected. Type a message, /quit to exit, @assistant <text> to ask the assistant.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}

		handleLine(ctx, coord, sess, line, completions)

		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// handleLine classifies one line of stdin input and dispatches the work
// it implies through the Coordinator, so the loading indicator and
// assistant log stay consistent regardless of the input's source.
func handleLine(ctx context.Context, coord *coordinator.Coordinator, sess *session, line string, completions chan<- tea.Msg) {
	activeChannel := coord.ActiveChannel()

	if verb, cmdArgs, ok := commands.ProcessCommand(line); ok {
		dispatchAssistant(ctx, coord, sess, commands.Classify(verb, cmdArgs), activeChannel, completions)
		return
	}

	if commands.IsAgentMention(line) {
		result := commands.ParseResult{Kind: model.AgentCommandUnknown, Args: []string{line}}
		dispatchAssistant(ctx, coord, sess, result, activeChannel, completions)
		return
	}

	if activeChannel == "" {
		fmt.Println("no active channel")
		return
	}

	cmd := coord.Dispatch(ctx, "sending message", func(taskCtx context.Context) (interface{}, error) {
		return sess.client.SendMessage(taskCtx, activeChannel, line)
	})
	go func() {
		msg := cmd()
		if tc, ok := msg.(coordinator.TaskCompletedMsg); ok && tc.Err != nil {
			fmt.Println(coordinator.ActionableError(tc.Err))
		}
		completions <- msg
	}()
}

// dispatchAssistant sends a classified command to the assistant gateway
// and, once it completes, records the exchange in the assistant log.
func dispatchAssistant(ctx context.Context, coord *coordinator.Coordinator, sess *session, result commands.ParseResult, activeChannel string, completions chan<- tea.Msg) {
	if sess.orch == nil {
		fmt.Println("assistant is not running (assistant.auto_start is disabled)")
		return
	}

	user := sess.ws.UserID
	payload := commands.ToWebhookPayload(result, activeChannel, user)

	cmd := coord.Dispatch(ctx, "asking assistant", func(taskCtx context.Context) (interface{}, error) {
		return sess.orch.Dispatch(taskCtx, payload)
	})

	go func() {
		msg := cmd()
		completions <- msg

		tc, ok := msg.(coordinator.TaskCompletedMsg)
		if !ok {
			return
		}
		response, _ := tc.Result.(string)
		completions <- coordinator.AssistantRepliedMsg{
			Command:  string(result.Kind),
			Response: response,
			Err:      tc.Err,
		}
	}()
}

// printUpdates renders Coordinator state changes to stdout. It is the
// fallback "view" for this entrypoint; a real terminal UI would consume
// the same Subscribe feed to drive its own redraw instead.
func printUpdates(ctx context.Context, coord *coordinator.Coordinator, updates <-chan tea.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case coordinator.ChannelUpdatedMsg:
				printLatestMessage(coord, m.ChannelID)
			case coordinator.AssistantLogUpdatedMsg:
				printLatestAssistantEntry(coord)
			case coordinator.SessionUpdatedMsg:
				fmt.Println("[session updated]")
			}
		}
	}
}

func printLatestMessage(coord *coordinator.Coordinator, channelID string) {
	if channelID == "" {
		channelID = coord.ActiveChannel()
	}
	msgs := coord.Messages(channelID)
	if len(msgs) == 0 {
		return
	}
	m := msgs[len(msgs)-1]
	name := m.Username
	if name == "" {
		name = m.UserID
	}
	fmt.Printf("[%s] %s: %s\n", channelID, name, m.Text)
}

func printLatestAssistantEntry(coord *coordinator.Coordinator) {
	entries := coord.AssistantLog()
	if len(entries) == 0 {
		return
	}
	e := entries[len(entries)-1]
	if e.Err != nil {
		fmt.Printf("[assistant] %s failed: %s\n", e.Command, coordinator.ActionableError(e.Err))
		return
	}
	fmt.Printf("[assistant] %s\n", e.Response)
}
