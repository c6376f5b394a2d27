// Package dial selects a transport.Dialer by library name.
package dial

import (
	"fmt"

	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/internal/transport/gobwas"
	"github.com/omochice/chat-session/internal/transport/gorilla"
	"github.com/omochice/chat-session/internal/transport/ws"
)

// Supported transport names.
const (
	Nhooyr  = "nhooyr"
	Gorilla = "gorilla"
	Gobwas  = "gobwas"
)

// Names lists the supported transports, default first.
var Names = []string{Nhooyr, Gorilla, Gobwas}

// New returns the dialer registered under name. An empty name selects nhooyr.
func New(name string) (transport.Dialer, error) {
	switch name {
	case Nhooyr, "":
		return &ws.Dialer{}, nil
	case Gorilla:
		return &gorilla.Dialer{}, nil
	case Gobwas:
		return &gobwas.Dialer{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}
