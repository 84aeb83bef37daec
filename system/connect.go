package system

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Paranoid-AF/mcconsole/console"
	"github.com/Paranoid-AF/mcconsole/remote"
)

// Environment keys overriding the connection defaults.
const (
	EnvHost     = "remote_host"
	EnvPort     = "remote_port"
	EnvUsername = "remote_username"
	EnvPassword = "remote_password"
	EnvSalt     = "remote_salt"
)

const defaultDialTimeout = 10 * time.Second

var errNoSession = errors.New("connections are not available")

func (s *System) connectCommands() []*console.Command {
	return []*console.Command{
		{
			Name:        "connect",
			Description: "Connect to a remote server",
			Detail:      "Missing arguments come from the environment, then the configuration.",
			Params: []console.Param{
				console.Optional("host"),
				console.Optional("port"),
				console.Optional("username"),
				console.Optional("password"),
				console.Optional("salt"),
			},
			Env: []console.EnvUsage{
				{Name: EnvHost, Usage: "default host"},
				{Name: EnvPort, Usage: "default port"},
				{Name: EnvUsername, Usage: "default user"},
				{Name: EnvPassword, Usage: "default password"},
				{Name: EnvSalt, Usage: "default salt"},
			},
			Handler: s.connect,
		},
		{
			Name:        "disconnect",
			Description: "Disconnect from the remote server",
			Handler:     s.disconnect,
		},
		{
			Name:        "subscribe",
			Description: "Follow a server stream",
			Detail:      "Streams include console, chat and connections.",
			Params:      []console.Param{console.Optional("source")},
			Env:         []console.EnvUsage{{Name: remote.EnvSource, Usage: "default stream"}},
			Handler:     s.subscribe,
		},
		{
			Name:        "unsubscribe",
			Description: "Stop following a server stream, or every stream",
			Params:      []console.Param{console.Optional("source")},
			Handler:     s.unsubscribe,
		},
	}
}

func (s *System) connect(e *console.Event) error {
	e.Handled = true
	if s.session == nil {
		return errNoSession
	}
	rc := s.cfg.Remote
	args := e.Args()
	arg := func(i int, key, fallback string) string {
		if i < len(args) {
			return args[i]
		}
		return e.Env.Lookup(key, fallback)
	}

	rc.Host = arg(0, EnvHost, rc.Host)
	port, err := strconv.Atoi(arg(1, EnvPort, strconv.Itoa(rc.Port)))
	if err != nil {
		e.AddOutput("Error: port - " + err.Error())
		return nil
	}
	if port < 0 || port > 65535 {
		e.AddOutput("Error: port must be between 0 and 65535")
		return nil
	}
	rc.Port = port
	rc.Username = arg(2, EnvUsername, rc.Username)
	rc.Password = arg(3, EnvPassword, rc.Password)
	rc.Salt = arg(4, EnvSalt, rc.Salt)
	if rc.StreamPort == s.cfg.Remote.StreamPort && rc.Port != s.cfg.Remote.Port {
		// The configured stream port belongs to the configured server.
		rc.StreamPort = 0
	}

	addr := net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port))
	e.AddOutput("Connecting to " + addr + "...")
	s.async(func() {
		timeout := rc.Timeout.Duration
		if timeout <= 0 {
			timeout = defaultDialTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		client, err := s.dial(ctx, rc)
		if err != nil {
			s.log.With("err", err).Warn("connect failed", "addr", addr)
			out := console.NewOutput("Error: Connect failed")
			out.AddOutput(err.Error())
			s.ctrl.Trigger(out)
			return
		}
		swap := console.NewOutput("")
		if old := s.session.Client(); old != nil {
			swap.AddCascade(console.NewDisconnect(old))
		}
		swap.AddCascade(console.NewConnect(client))
		s.ctrl.Trigger(swap)
	})
	return nil
}

func (s *System) disconnect(e *console.Event) error {
	e.Handled = true
	if s.session == nil {
		return errNoSession
	}
	client := s.session.Client()
	if client == nil {
		e.AddOutput("Not connected")
		return nil
	}
	e.AddCascade(console.NewDisconnect(client))
	return nil
}

func (s *System) subscribe(e *console.Event) error {
	e.Handled = true
	if s.session == nil {
		return errNoSession
	}
	source := e.Env.Lookup(remote.EnvSource, s.cfg.Feed.Source)
	if args := e.Args(); len(args) > 0 {
		source = args[0]
	}
	if s.session.Client() == nil {
		e.AddOutput("Not connected")
		return nil
	}
	s.async(func() {
		if err := s.session.Subscribe(source); err != nil {
			s.printf("Error: %v", err)
			return
		}
		s.printf("Subscribed to %s", source)
	})
	return nil
}

func (s *System) unsubscribe(e *console.Event) error {
	e.Handled = true
	if s.session == nil {
		return errNoSession
	}
	sources := e.Args()
	if len(sources) == 0 {
		sources = s.session.Sources()
	}
	if len(sources) == 0 {
		e.AddOutput("No active subscriptions")
		return nil
	}
	var stopped []string
	for _, src := range sources {
		if s.session.Unsubscribe(src) {
			stopped = append(stopped, src)
		}
	}
	if len(stopped) == 0 {
		e.AddOutputf("Not subscribed to %s", sources[0])
		return nil
	}
	e.AddOutput("Unsubscribed from " + strings.Join(stopped, ", "))
	return nil
}
