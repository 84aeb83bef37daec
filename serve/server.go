package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	mcconsole "github.com/Paranoid-AF/mcconsole"
	"github.com/Paranoid-AF/mcconsole/jsonapi/jsonapitest"
)

// Stream sources published by the mock server.
const (
	sourceConsole     = "console"
	sourceChat        = "chat"
	sourceConnections = "connections"
)

// player is the state kept for an online player.
type player struct {
	Name   string  `json:"name"`
	World  string  `json:"world"`
	Health float64 `json:"health"`
	Op     bool    `json:"op"`
}

// Server is a scripted game server behind a JSONAPI endpoint. Console
// commands change its player list and echo into the console, chat and
// connections streams.
type Server struct {
	api *jsonapitest.Server
	log pslog.Logger
	now func() time.Time

	mu      sync.Mutex
	players map[string]*player
}

// Options configures a Server.
type Options struct {
	Addr       string
	StreamAddr string
	Username   string
	Password   string
	Salt       string
	Players    []string
	Logger     pslog.Logger
	// Now stamps stream lines; nil means time.Now.
	Now func() time.Time
}

// NewServer starts the endpoint and registers the server methods.
func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	api, err := jsonapitest.NewServer(jsonapitest.Options{
		Username:   opts.Username,
		Password:   opts.Password,
		Salt:       opts.Salt,
		Addr:       opts.Addr,
		StreamAddr: opts.StreamAddr,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s := &Server{
		api:     api,
		log:     opts.Logger,
		now:     opts.Now,
		players: make(map[string]*player),
	}
	for _, name := range opts.Players {
		s.players[name] = &player{Name: name, World: "world", Health: 20}
	}
	s.register()
	return s, nil
}

// API returns the underlying endpoint.
func (s *Server) API() *jsonapitest.Server { return s.api }

// Close stops the endpoint.
func (s *Server) Close() error { return s.api.Close() }

func (s *Server) register() {
	s.api.Handle(mcconsole.MethodInfo{
		Name:        "getServerVersion",
		Description: "Server software version",
		Returns:     []string{"string"},
	}, func([]json.RawMessage) (any, error) {
		return "mcconsole-mockd " + Version, nil
	})
	s.api.Handle(mcconsole.MethodInfo{
		Name:        "getPlayerCount",
		Description: "Number of players online",
		Returns:     []string{"int"},
	}, func([]json.RawMessage) (any, error) {
		return len(s.Players()), nil
	})
	s.api.Handle(mcconsole.MethodInfo{
		Name:        "getPlayerNames",
		Description: "Names of the players online",
		Returns:     []string{"array"},
	}, func([]json.RawMessage) (any, error) {
		return s.Players(), nil
	})
	s.api.Handle(mcconsole.MethodInfo{
		Name:        "getPlayer",
		Description: "Details of one online player",
		Returns:     []string{"object"},
		Args:        []mcconsole.ArgInfo{{Type: "string", Description: "player name"}},
	}, s.getPlayer)
	s.api.Handle(mcconsole.MethodInfo{
		Name:        "broadcast",
		Description: "Send a message to every player",
		Returns:     []string{"boolean"},
		Args:        []mcconsole.ArgInfo{{Type: "string", Description: "message"}},
	}, s.broadcast)
	s.api.Handle(mcconsole.MethodInfo{
		Name:        "broadcastWithName",
		Description: "Send a message to every player under a sender name",
		Returns:     []string{"boolean"},
		Args: []mcconsole.ArgInfo{
			{Type: "string", Description: "message"},
			{Type: "string", Description: "sender name"},
		},
	}, s.broadcastWithName)
	s.api.Handle(mcconsole.MethodInfo{
		Name:        "runConsoleCommand",
		Description: "Run a command as the server console",
		Returns:     []string{"boolean"},
		Args:        []mcconsole.ArgInfo{{Type: "string", Description: "command line"}},
	}, s.runConsoleCommand)
}

// Players returns the online player names, sorted.
func (s *Server) Players() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.players))
	for name := range s.players {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func stringArg(args []json.RawMessage, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing %s argument", name)
	}
	var v string
	if err := json.Unmarshal(args[i], &v); err != nil {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return v, nil
}

func (s *Server) getPlayer(args []json.RawMessage) (any, error) {
	name, err := stringArg(args, 0, "player name")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[name]
	if !ok {
		return nil, fmt.Errorf("player %s is not online", name)
	}
	return *p, nil
}

func (s *Server) broadcast(args []json.RawMessage) (any, error) {
	msg, err := stringArg(args, 0, "message")
	if err != nil {
		return nil, err
	}
	s.say("Server", msg)
	return true, nil
}

func (s *Server) broadcastWithName(args []json.RawMessage) (any, error) {
	msg, err := stringArg(args, 0, "message")
	if err != nil {
		return nil, err
	}
	name, err := stringArg(args, 1, "sender name")
	if err != nil {
		return nil, err
	}
	s.say(name, msg)
	return true, nil
}

// runConsoleCommand understands a handful of vanilla commands. Anything
// else gets the vanilla unknown command reply on the console stream.
func (s *Server) runConsoleCommand(args []json.RawMessage) (any, error) {
	line, err := stringArg(args, 0, "command")
	if err != nil {
		return nil, err
	}
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	s.log.Debug("console command", "command", name)

	switch name {
	case "list":
		names := s.Players()
		s.console(fmt.Sprintf("There are %d of a max 20 players online: %s", len(names), strings.Join(names, ", ")))
	case "say":
		if rest == "" {
			return nil, errors.New("usage: /say <message>")
		}
		s.say("Server", rest)
	case "join":
		if rest == "" {
			return nil, errors.New("usage: /join <player>")
		}
		s.join(rest)
	case "kick":
		if !s.leave(rest, "Kicked by an operator") {
			s.console("That player cannot be found")
		}
	case "op", "deop":
		s.mu.Lock()
		p, ok := s.players[rest]
		if ok {
			p.Op = name == "op"
		}
		s.mu.Unlock()
		if !ok {
			s.console("That player cannot be found")
			break
		}
		if name == "op" {
			s.console("Made " + rest + " a server operator")
		} else {
			s.console("Made " + rest + " no longer a server operator")
		}
	case "lag":
		s.console("Can't keep up! Did the system time change, or is the server overloaded?")
	default:
		s.console(`§cUnknown command. Type "help" for help.`)
	}
	return true, nil
}

func (s *Server) join(name string) {
	s.mu.Lock()
	_, online := s.players[name]
	if !online {
		s.players[name] = &player{Name: name, World: "world", Health: 20}
	}
	s.mu.Unlock()
	if online {
		return
	}
	s.console("§e" + name + " joined the game")
	s.api.Publish(sourceConnections, map[string]any{"player": name, "action": "connected", "time": s.now().Unix()})
}

func (s *Server) leave(name, reason string) bool {
	s.mu.Lock()
	_, online := s.players[name]
	delete(s.players, name)
	s.mu.Unlock()
	if !online {
		return false
	}
	s.console(fmt.Sprintf("Kicked %s: %s", name, reason))
	s.console("§e" + name + " left the game")
	s.api.Publish(sourceConnections, map[string]any{"player": name, "action": "disconnected", "time": s.now().Unix()})
	return true
}

func (s *Server) say(from, msg string) {
	s.console(fmt.Sprintf("[%s] %s", from, msg))
	s.api.Publish(sourceChat, mcconsole.ChatLine{Player: from, Message: msg, Time: s.now().Unix()})
}

func (s *Server) console(line string) {
	ts := s.now().Format("15:04:05")
	s.api.Publish(sourceConsole, mcconsole.ConsoleLine{
		Line: fmt.Sprintf("[%s INFO]: %s\n", ts, line),
		Time: s.now().Unix(),
	})
}

// Run writes a periodic autosave line to the console stream until ctx ends.
func (s *Server) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.console("Saving the game")
		}
	}
}
