// Package jsonapi is a client for the JSONAPI remote control protocol:
// authenticated method calls over HTTP and subscription streams over a raw
// line socket or a websocket.
package jsonapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	mcconsole "github.com/Paranoid-AF/mcconsole"
)

// Error is an error reported by the server.
type Error = mcconsole.RemoteError

const defaultTimeout = 10 * time.Second

// Client talks to one JSONAPI server. Safe for concurrent use.
type Client struct {
	cfg    mcconsole.RemoteConfig
	http   *http.Client
	dialer *websocket.Dialer
	log    pslog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l pslog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a Client for cfg without contacting the server.
func New(cfg mcconsole.RemoteConfig, opts ...Option) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = pslog.Ctx(context.Background())
	}
	c.log = c.log.With("remote", c.Addr())
	return c
}

// Dial returns a Client after checking the server answers the method listing.
func Dial(ctx context.Context, cfg mcconsole.RemoteConfig, opts ...Option) (*Client, error) {
	c := New(cfg, opts...)
	if _, err := c.ListMethods(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect %s: %w", c.Addr(), err)
	}
	c.log.Info("jsonapi connected")
	return c, nil
}

// Config returns the settings the client was built with.
func (c *Client) Config() mcconsole.RemoteConfig { return c.cfg }

// Addr returns the host:port of the call API.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Key returns the authentication key for a method or stream name.
func (c *Client) Key(name string) string {
	return Key(c.cfg.Username, name, c.cfg.Password, c.cfg.Salt)
}

// Key derives the authentication key the server expects for name: the hex
// SHA-256 of username, name, password and salt concatenated.
func Key(username, name, password, salt string) string {
	sum := sha256.Sum256([]byte(username + name + password + salt))
	return hex.EncodeToString(sum[:])
}

// Call invokes method with args and returns the raw success payload.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("call %s: encode args: %w", method, err)
	}
	tag := uuid.NewString()
	q := url.Values{}
	q.Set("method", method)
	q.Set("args", string(encoded))
	q.Set("key", c.Key(method))
	q.Set("tag", tag)
	u := url.URL{Scheme: "http", Host: c.Addr(), Path: "/api/call", RawQuery: q.Encode()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	c.log.Debug("jsonapi call", "method", method, "tag", tag)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("call %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: http status %d", method, resp.StatusCode)
	}
	env, err := mcconsole.ParseEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if env.Tag != "" && env.Tag != tag {
		return nil, fmt.Errorf("call %s: response tag %q does not match %q", method, env.Tag, tag)
	}
	payload, err := env.Payload()
	if err != nil {
		var remoteErr *Error
		if errors.As(err, &remoteErr) && remoteErr.Source == "" {
			remoteErr.Source = method
		}
		return nil, err
	}
	return payload, nil
}

// ListMethods returns the methods the server exposes.
func (c *Client) ListMethods(ctx context.Context) ([]mcconsole.MethodInfo, error) {
	raw, err := c.Call(ctx, c.cfg.MethodsMethod)
	if err != nil {
		return nil, err
	}
	var methods []mcconsole.MethodInfo
	if err := json.Unmarshal(raw, &methods); err != nil {
		return nil, fmt.Errorf("decode method list: %w", err)
	}
	return methods, nil
}

// Subscribe opens the stream for source. The caller owns the returned
// stream and must close it.
func (c *Client) Subscribe(ctx context.Context, source string) (io.ReadCloser, error) {
	var (
		stream io.ReadCloser
		err    error
	)
	switch c.cfg.StreamTransport {
	case mcconsole.TransportWebsocket:
		stream, err = c.subscribeWebsocket(ctx, source)
	case mcconsole.TransportSocket, "":
		stream, err = c.subscribeSocket(ctx, source)
	default:
		err = fmt.Errorf("unknown stream transport %q", c.cfg.StreamTransport)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", source, err)
	}
	c.log.Debug("jsonapi subscribed", "source", source, "transport", c.cfg.StreamTransport)
	return stream, nil
}

func (c *Client) subscribeQuery(source string) string {
	q := url.Values{}
	q.Set("source", source)
	q.Set("key", c.Key(source))
	return q.Encode()
}

func (c *Client) subscribeSocket(ctx context.Context, source string) (io.ReadCloser, error) {
	d := net.Dialer{Timeout: c.http.Timeout}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.StreamAddrPort()))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(conn, "/api/subscribe?"+c.subscribeQuery(source)+"\n"); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) subscribeWebsocket(ctx context.Context, source string) (io.ReadCloser, error) {
	u := url.URL{Scheme: "ws", Host: c.Addr(), Path: "/api/subscribe", RawQuery: c.subscribeQuery(source)}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// wsStream presents websocket text messages as a newline delimited stream.
type wsStream struct {
	conn *websocket.Conn
	buf  []byte
}

func (s *wsStream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if len(msg) == 0 || msg[len(msg)-1] != '\n' {
			msg = append(msg, '\n')
		}
		s.buf = msg
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
