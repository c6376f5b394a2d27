package main

import (
	"bufio"
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func replCmd() *cli.Command {
	return &cli.Command{
		Name:    "repl",
		Aliases: []string{"r"},
		Usage:   "Chat interactively; type 'quit' to exit",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := newSession(c)
			if err != nil {
				return err
			}
			if err := s.open(); err != nil {
				s.closer.Close()
				return err
			}
			fmt.Fprintf(c.App.Writer, "Connected to %s. Type your messages (or 'quit' to exit):\n", s.cfg.Endpoint)

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(c.App.Reader)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					s.logger.Warn("failed to read input", "error", err)
				}
			}()

			g, gctx := errgroup.WithContext(ctx)
			quit := make(chan string, 1)
			g.Go(func() error {
				return forward(gctx, s, lines, quit)
			})
			g.Go(func() error {
				select {
				case reason := <-quit:
					return s.shutdown(reason)
				case <-gctx.Done():
					return s.shutdown("interrupted")
				case <-s.client.Done():
					defer s.closer.Close()
					return s.result()
				}
			})
			return g.Wait()
		},
	}
}

// forward sends each input line until the user quits or input ends.
func forward(ctx context.Context, s *session, lines <-chan string, quit chan<- string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.client.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				quit <- "end of input"
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "quit" || text == "exit" {
				quit <- "bye"
				return nil
			}
			if err := s.client.SendText(text); err != nil {
				s.logger.Warn("failed to send message", "error", err)
			}
		}
	}
}
