package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/pairchat/pairchat"
	"github.com/vovakirdan/pairchat/pairchat/rest"
)

// settleTimeout bounds how long /quit waits for pending sends.
const settleTimeout = 5 * time.Second

type chatFlags struct {
	server  string
	user    string
	peer    string
	token   string
	verbose bool
}

func newChatCmd() *cobra.Command {
	var flags chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with one peer from the terminal",
		Long: "Opens the room shared with --peer, creating it if needed, and prints messages as they arrive.\n" +
			"Lines typed are sent to the peer. /resend retries failed messages, /quit exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, flags, os.Stdin, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.server, "server", "http://localhost:8080", "Server base URL")
	f.StringVar(&flags.user, "user", "", "Your user id")
	f.StringVar(&flags.peer, "peer", "", "User id to chat with")
	f.StringVar(&flags.token, "token", "", "Bearer token, if the server requires one")
	f.BoolVar(&flags.verbose, "verbose", false, "Log SDK activity to stderr")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

// endpoints derives the api and websocket URLs from the server base URL.
func endpoints(server string) (apiURL, wsURL string, err error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", "", fmt.Errorf("invalid server url: %w", err)
	}
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("server url must be http or https, got %q", server)
	}
	return u.String() + "/api", ws.String() + "/ws", nil
}

// ensureRoom returns the room of user and peer, creating it on first contact.
func ensureRoom(ctx context.Context, c *rest.Client, user, peer string) (pairchat.ChatRoom, error) {
	rec, err := c.FindRoom(ctx, user, peer)
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		rec, err = c.CreateRoom(ctx, rest.CreateRoomRequest{SenderID: user, ReceiverID: peer})
	}
	if err != nil {
		return pairchat.ChatRoom{}, fmt.Errorf("open room with %s: %w", peer, err)
	}
	return pairchat.RoomFromRecord(*rec), nil
}

func runChat(ctx context.Context, flags chatFlags, in io.Reader, out io.Writer) error {
	if flags.user == "" || flags.peer == "" || flags.user == flags.peer {
		return errors.New("--user and --peer must name two different users")
	}
	apiURL, wsURL, err := endpoints(flags.server)
	if err != nil {
		return err
	}

	var logger pairchat.Logger
	if flags.verbose {
		logger = pairchat.NewZerologLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger())
	}

	client := rest.NewClient(apiURL)
	client.SetToken(flags.token)
	room, err := ensureRoom(ctx, client, flags.user, flags.peer)
	if err != nil {
		return err
	}

	cfg := pairchat.DefaultConfig()
	cfg.URL = wsURL
	cfg.User = flags.user
	cfg.Token = flags.token
	channel := pairchat.NewChannel(cfg)
	channel.SetLogger(logger)
	defer channel.Close()

	chat, err := pairchat.NewChat(pairchat.ChatConfig{
		Self:    flags.user,
		History: pairchat.NewRESTHistory(client),
		Channel: channel,
		Logger:  logger,
		Retry:   pairchat.DefaultRetryPolicy,
	})
	if err != nil {
		return err
	}
	defer chat.Close()

	states := make(chan pairchat.StateEvent, 8)
	channel.OnStateChanged(func(ev pairchat.StateEvent) {
		chat.HandleState(ev)
		select {
		case states <- ev:
		default:
		}
	})

	session, err := chat.Open(room)
	if err != nil {
		return err
	}
	if err := channel.Connect(ctx); err != nil {
		fmt.Fprintf(out, "* live delivery unavailable (%v); messages are still saved\n", err)
	}
	fmt.Fprintf(out, "* chatting with %s. /resend retries failed messages, /quit exits.\n", flags.peer)

	inputCh := make(chan string)
	go readInput(in, inputCh)

	r := newRenderer(flags.user)
	for {
		select {
		case <-ctx.Done():
			// Interrupted: still give pending sends their chance to land.
			return settle(context.WithoutCancel(ctx), session, r, out)

		case ev := <-states:
			switch ev.NewState {
			case pairchat.StateReconnecting:
				fmt.Fprintln(out, "* connection lost, reconnecting...")
			case pairchat.StateConnected:
				if ev.Resumed() {
					fmt.Fprintln(out, "* reconnected")
				}
			case pairchat.StateError:
				fmt.Fprintln(out, "* live delivery stopped; messages are still saved")
			}

		case _, ok := <-session.Updates():
			if !ok {
				return nil
			}
			r.render(out, session.Messages(), session.Err())

		case line, ok := <-inputCh:
			if !ok {
				return settle(ctx, session, r, out)
			}
			switch text := strings.TrimSpace(line); text {
			case "":
			case "/quit":
				return settle(ctx, session, r, out)
			case "/resend":
				n := 0
				for _, m := range session.Messages() {
					if m.Failed() && session.Resend(m.ProvisionalID) == nil {
						n++
					}
				}
				fmt.Fprintf(out, "* resending %d message(s)\n", n)
			default:
				if _, err := session.Send(text); err != nil {
					fmt.Fprintf(out, "* not sent: %v\n", err)
				}
			}
		}
	}
}

// settle waits for pending sends to resolve so quitting does not abandon
// a message before the store has it.
func settle(ctx context.Context, s *pairchat.RoomSession, r *renderer, out io.Writer) error {
	timeout := time.NewTimer(settleTimeout)
	defer timeout.Stop()
	for hasPending(s.Messages()) {
		select {
		case _, ok := <-s.Updates():
			if !ok {
				return nil
			}
			r.render(out, s.Messages(), s.Err())
		case <-timeout.C:
			fmt.Fprintln(out, "* some messages are still pending")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func hasPending(msgs []pairchat.Message) bool {
	for _, m := range msgs {
		if m.Status == pairchat.StatusPending {
			return true
		}
	}
	return false
}

func readInput(in io.Reader, dst chan<- string) {
	defer close(dst)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		dst <- scanner.Text()
	}
}
