package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

func sendCmd() *cli.Command {
	return &cli.Command{
		Name:    "send",
		Aliases: []string{"s"},
		Usage:   "Send one message and print the replies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "message",
				Aliases:  []string{"m"},
				Usage:    "Message text",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to wait for replies before closing",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			s, err := newSession(c)
			if err != nil {
				return err
			}
			if err := s.open(); err != nil {
				s.closer.Close()
				return err
			}

			if err := s.client.SendText(c.String("message")); err != nil {
				_ = s.shutdown("send failed")
				return err
			}

			select {
			case <-time.After(c.Duration("wait")):
			case <-c.Context.Done():
			case <-s.client.Done():
				defer s.closer.Close()
				return s.result()
			}
			return s.shutdown("done")
		},
	}
}
