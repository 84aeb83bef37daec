// Package jsonapitest provides an in-process JSONAPI server: the HTTP call
// API, a line socket stream and a websocket stream, all authenticated the
// way a real server does.
package jsonapitest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	mcconsole "github.com/Paranoid-AF/mcconsole"
	"github.com/Paranoid-AF/mcconsole/jsonapi"
)

// DefaultMethodsMethod is the method that lists the registered methods.
const DefaultMethodsMethod = "jsonapi.methods"

// subscriberBuffer is how many lines a slow subscriber may lag behind.
const subscriberBuffer = 256

// MethodFunc implements a remote method. The returned value is encoded as
// the success payload; an error becomes an error envelope.
type MethodFunc func(args []json.RawMessage) (any, error)

// Options configures a Server.
type Options struct {
	Username string
	Password string
	Salt     string
	// Addr is the call API listen address; empty means 127.0.0.1:0.
	Addr string
	// StreamAddr is the line socket listen address; empty means 127.0.0.1:0.
	StreamAddr    string
	MethodsMethod string
	Logger        pslog.Logger
}

// Call records one method invocation.
type Call struct {
	Method string
	Args   []json.RawMessage
}

type method struct {
	info mcconsole.MethodInfo
	fn   MethodFunc
}

type subscriber struct {
	source string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Server is a fake JSONAPI server.
type Server struct {
	opts     Options
	log      pslog.Logger
	httpLn   net.Listener
	streamLn net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	methods map[string]method
	order   []string
	subs    map[*subscriber]struct{}
	calls   []Call
	closed  bool
	wg      sync.WaitGroup
}

// NewServer starts a Server listening on the configured addresses.
func NewServer(opts Options) (*Server, error) {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.StreamAddr == "" {
		opts.StreamAddr = "127.0.0.1:0"
	}
	if opts.MethodsMethod == "" {
		opts.MethodsMethod = DefaultMethodsMethod
	}
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}

	httpLn, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	streamLn, err := net.Listen("tcp", opts.StreamAddr)
	if err != nil {
		httpLn.Close()
		return nil, err
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		httpLn:   httpLn,
		streamLn: streamLn,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		methods:  make(map[string]method),
		subs:     make(map[*subscriber]struct{}),
	}

	r := chi.NewRouter()
	r.Get("/api/call", s.handleCall)
	r.Get("/api/subscribe", s.handleWebsocket)
	s.httpSrv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.With("err", err).Warn("mock http serve failed")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.serveStream()
	}()
	return s, nil
}

// Remote returns client settings pointing at this server.
func (s *Server) Remote() mcconsole.RemoteConfig {
	httpAddr := s.httpLn.Addr().(*net.TCPAddr)
	streamAddr := s.streamLn.Addr().(*net.TCPAddr)
	return mcconsole.RemoteConfig{
		Host:            httpAddr.IP.String(),
		Port:            httpAddr.Port,
		Username:        s.opts.Username,
		Password:        s.opts.Password,
		Salt:            s.opts.Salt,
		StreamPort:      streamAddr.Port,
		StreamTransport: mcconsole.TransportSocket,
		Timeout:         mcconsole.Duration{Duration: 5 * time.Second},
		MethodsMethod:   s.opts.MethodsMethod,
		ConsoleMethod:   "runConsoleCommand",
		ChatMethod:      "broadcastWithName",
	}
}

// Addr returns the call API address.
func (s *Server) Addr() string { return s.httpLn.Addr().String() }

// StreamAddr returns the line socket address.
func (s *Server) StreamAddr() string { return s.streamLn.Addr().String() }

// Handle registers fn under info.Name, replacing any earlier registration.
func (s *Server) Handle(info mcconsole.MethodInfo, fn MethodFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[info.Name]; !ok {
		s.order = append(s.order, info.Name)
	}
	s.methods[info.Name] = method{info: info, fn: fn}
}

// Methods returns the registered method descriptions in registration order.
func (s *Server) Methods() []mcconsole.MethodInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mcconsole.MethodInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.methods[name].info)
	}
	return out
}

// Calls returns every recorded call, oldest first.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *Server) validKey(name, key string) bool {
	return key == jsonapi.Key(s.opts.Username, name, s.opts.Password, s.opts.Salt)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("method")
	tag := q.Get("tag")

	reply := func(result string, payload any) {
		data, err := mcconsole.NewEnvelope(result, name, tag, payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}

	if !s.validKey(name, q.Get("key")) {
		s.log.Debug("mock call rejected", "method", name)
		reply(mcconsole.ResultError, "Invalid API key")
		return
	}

	var args []json.RawMessage
	if raw := q.Get("args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			reply(mcconsole.ResultError, "Invalid args: "+err.Error())
			return
		}
	}

	if name == s.opts.MethodsMethod {
		reply(mcconsole.ResultSuccess, s.Methods())
		return
	}

	s.mu.Lock()
	m, ok := s.methods[name]
	s.calls = append(s.calls, Call{Method: name, Args: args})
	s.mu.Unlock()
	if !ok {
		reply(mcconsole.ResultError, fmt.Sprintf("Method %s does not exist", name))
		return
	}

	s.log.Debug("mock call", "method", name, "args", len(args))
	result, err := m.fn(args)
	if err != nil {
		reply(mcconsole.ResultError, err.Error())
		return
	}
	reply(mcconsole.ResultSuccess, result)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if !s.validKey(source, r.URL.Query().Get("key")) {
		http.Error(w, "invalid key", http.StatusForbidden)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.With("err", err).Debug("mock websocket upgrade failed")
		return
	}
	sub := s.addSubscriber(source)
	if sub == nil {
		conn.Close()
		return
	}

	go func() {
		// Drain client frames so close and errors are noticed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.close()
				return
			}
		}
	}()

	defer s.removeSubscriber(sub)
	defer conn.Close()
	for {
		select {
		case line := <-sub.send:
			if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}
		case <-sub.done:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Server) serveStream() {
	for {
		conn, err := s.streamLn.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStreamConn(conn)
		}()
	}
}

func (s *Server) handleStreamConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	conn.SetReadDeadline(time.Time{})
	request := strings.TrimSpace(scanner.Text())
	path, rawQuery, _ := strings.Cut(request, "?")
	q, err := url.ParseQuery(rawQuery)
	if path != "/api/subscribe" || err != nil {
		s.writeStreamError(conn, "", "Invalid request")
		return
	}
	source := q.Get("source")
	if !s.validKey(source, q.Get("key")) {
		s.writeStreamError(conn, source, "Invalid API key")
		return
	}

	sub := s.addSubscriber(source)
	if sub == nil {
		return
	}
	defer s.removeSubscriber(sub)

	go func() {
		// The client never sends more; EOF means it went away.
		for scanner.Scan() {
		}
		sub.close()
	}()

	for {
		select {
		case line := <-sub.send:
			if _, err := conn.Write(append(line, '\n')); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (s *Server) writeStreamError(conn net.Conn, source, msg string) {
	data, err := mcconsole.NewEnvelope(mcconsole.ResultError, source, "", msg)
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}

func (s *Server) addSubscriber(source string) *subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	sub := &subscriber{source: source, send: make(chan []byte, subscriberBuffer), done: make(chan struct{})}
	s.subs[sub] = struct{}{}
	s.log.Debug("mock subscribe", "source", source)
	return sub
}

func (s *Server) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.close()
}

// Subscribers returns the number of open streams for source.
func (s *Server) Subscribers(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sub := range s.subs {
		if sub.source == source {
			n++
		}
	}
	return n
}

// WaitSubscribers polls until source has at least n open streams.
func (s *Server) WaitSubscribers(source string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.Subscribers(source) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Publish sends payload as a success envelope to every subscriber of source
// and returns how many received it.
func (s *Server) Publish(source string, payload any) int {
	data, err := mcconsole.NewEnvelope(mcconsole.ResultSuccess, source, "", payload)
	if err != nil {
		s.log.With("err", err).Warn("mock publish failed", "source", source)
		return 0
	}
	return s.PublishRaw(source, data)
}

// PublishRaw sends line verbatim to every subscriber of source.
func (s *Server) PublishRaw(source string, line []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sub := range s.subs {
		if sub.source != source {
			continue
		}
		select {
		case sub.send <- slices.Clone(line):
			n++
		default:
			s.log.Warn("mock subscriber lagging, dropping line", "source", source)
		}
	}
	return n
}

// Disconnect ends every open stream for source.
func (s *Server) Disconnect(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.source == source {
			sub.close()
		}
	}
}

// Close stops the listeners and ends every stream.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		sub.close()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)
	s.streamLn.Close()
	s.wg.Wait()
	return err
}

