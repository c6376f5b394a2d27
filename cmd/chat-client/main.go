package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/omochice/chat-session/internal/client"
	"github.com/omochice/chat-session/internal/config"
	"github.com/omochice/chat-session/internal/logging"
	"github.com/omochice/chat-session/pkg/protocol"
	"github.com/urfave/cli/v2"
)

const appName = "chat-client"

func main() {
	if err := newApp(os.Stdin, os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(in io.Reader, out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      appName,
		Usage:     "Talk to a chat agent over WebSocket",
		Reader:    in,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a yaml, toml or json config file", EnvVars: []string{"CHAT_CONFIG"}},
			&cli.StringFlag{Name: "endpoint", Usage: "Chat endpoint, e.g. ws://localhost:8000/ws/chat"},
			&cli.StringFlag{Name: "transport", Usage: "WebSocket library: nhooyr, gorilla or gobwas"},
			&cli.StringFlag{Name: "chat-id", Usage: "Chat identifier sent with every message"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "text or json"},
			&cli.StringFlag{Name: "log-file", Usage: "Write logs to a rotating file instead of stderr"},
		},
		Commands: []*cli.Command{
			sendCmd(),
			replCmd(),
		},
	}
}

// flagKeys maps global flags to config keys.
var flagKeys = map[string]string{
	"endpoint":   "endpoint",
	"transport":  "transport",
	"chat-id":    "chat_id",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-file":   "log.file",
}

// session bundles what every command needs to talk to the endpoint.
type session struct {
	cfg    *config.Config
	client *client.Client
	logger *slog.Logger
	closer io.Closer
}

func newSession(c *cli.Context) (*session, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	cfg, err := config.Load(c.String("config"), overrides)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.ClientOptions()
	if err != nil {
		closer.Close()
		return nil, err
	}
	cl, err := client.New(append(opts, client.WithLogger(logger))...)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	s := &session{cfg: cfg, client: cl, logger: logger, closer: closer}
	s.printReplies(c.App.Writer)
	return s, nil
}

func (s *session) printReplies(w io.Writer) {
	s.client.OnMessage(func(m protocol.Message) {
		text, _ := m.Text()
		if reply, err := protocol.ParseReply(text); err == nil {
			fmt.Fprintf(w, "[agent %s]: %s\n", reply.ResponseDate.Format("15:04:05"), reply.Answer)
			return
		}
		fmt.Fprintf(w, "[server]: %s\n", text)
	})
	s.client.OnError(func(err error) {
		s.logger.Warn("chat error", "error", err)
	})
}

// open connects and waits until the session is Open or has failed.
func (s *session) open() error {
	opened := make(chan struct{})
	remove := s.client.OnStateChange(func(sc client.StateChange) {
		if sc.To == client.StateOpen {
			select {
			case <-opened:
			default:
				close(opened)
			}
		}
	})
	defer remove()

	if err := s.client.Connect(s.cfg.Endpoint); err != nil {
		return err
	}
	select {
	case <-opened:
		return nil
	case <-s.client.Done():
		return s.result()
	}
}

// shutdown closes the session gracefully and reports how it ended.
func (s *session) shutdown(reason string) error {
	defer s.closer.Close()
	if err := s.client.Close(protocol.CloseNormal, reason); err != nil {
		return err
	}
	<-s.client.Done()
	return s.result()
}

func (s *session) result() error {
	info, _ := s.client.CloseInfo()
	s.logger.Info("session finished", "code", info.Code, "reason", info.Reason)
	switch info.Code {
	case protocol.CloseNormal, protocol.CloseGoingAway:
		return nil
	default:
		return fmt.Errorf("session closed: %s", info)
	}
}
