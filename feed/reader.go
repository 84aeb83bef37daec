// Package feed reads subscription streams: newline delimited JSON envelopes
// turned into display lines and handed to a delivery callback.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	mcconsole "github.com/Paranoid-AF/mcconsole"
)

// ErrStreamClosed is reported when the server ends a stream.
var ErrStreamClosed = errors.New("stream closed by server")

// Options configures a Reader. Zero fields fall back to the raw payload, no
// filtering and no formatting.
type Options struct {
	Extract Extractor
	Filter  Filter
	Format  Formatter
	Logger  pslog.Logger
}

// Reader consumes one subscription stream on its own goroutine. Each line is
// parsed as an envelope, its payload extracted, filtered and formatted, and
// the result passed to deliver. A read or parse fault is delivered once as
// an error line and ends the reader.
type Reader struct {
	source  string
	stream  io.ReadCloser
	deliver func(line string)
	extract Extractor
	filter  Filter
	format  Formatter
	log     pslog.Logger

	active    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewReader returns an active Reader for stream. Call Start to begin reading.
func NewReader(source string, stream io.ReadCloser, deliver func(line string), opts Options) *Reader {
	r := &Reader{
		source:  source,
		stream:  stream,
		deliver: deliver,
		extract: opts.Extract,
		filter:  opts.Filter,
		format:  opts.Format,
		log:     opts.Logger,
		done:    make(chan struct{}),
	}
	if r.extract == nil {
		r.extract = RawLine
	}
	if r.log == nil {
		r.log = pslog.Ctx(context.Background())
	}
	r.log = r.log.With("source", source)
	r.active.Store(true)
	return r
}

// Source returns the subscription name.
func (r *Reader) Source() string { return r.source }

// Start runs the read loop on a new goroutine.
func (r *Reader) Start() {
	r.log.Info("feed start")
	go r.Run()
}

// Active reports whether the reader is still consuming the stream.
func (r *Reader) Active() bool { return r.active.Load() }

// Done is closed when the read loop has exited and the stream is closed.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Stop deactivates the reader and closes the stream, which unblocks a
// pending read. Nothing more is delivered after Stop returns.
func (r *Reader) Stop() {
	if r.active.Swap(false) {
		r.log.Info("feed stop")
	}
	r.closeStream()
}

func (r *Reader) closeStream() {
	r.closeOnce.Do(func() {
		if err := r.stream.Close(); err != nil {
			r.log.Debug("feed close", "err", err)
		}
	})
}

// Run reads until the stream ends, a fault occurs or Stop is called.
func (r *Reader) Run() {
	defer close(r.done)
	defer r.closeStream()

	br := bufio.NewReader(r.stream)
	for r.active.Load() {
		data, readErr := br.ReadBytes('\n')
		if !r.active.Load() {
			return
		}
		if len(bytes.TrimSpace(data)) > 0 {
			line, ok, err := r.decode(data)
			if err != nil {
				r.fail(err)
				return
			}
			if ok && r.active.Load() {
				r.deliver(line)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				readErr = ErrStreamClosed
			}
			r.fail(readErr)
			return
		}
	}
}

// decode turns one raw stream line into a display line. ok is false when the
// line was filtered out.
func (r *Reader) decode(data []byte) (string, bool, error) {
	data = bytes.TrimRight(data, "\r\n")
	// Some servers prefix each line with two framing bytes.
	if data[0] != '{' {
		if len(data) < 2 {
			return "", false, fmt.Errorf("short line %q", data)
		}
		data = data[2:]
	}
	env, err := mcconsole.ParseEnvelope(data)
	if err != nil {
		return "", false, fmt.Errorf("parse line: %w", err)
	}
	payload, err := env.Payload()
	if err != nil {
		return "", false, err
	}
	line, err := r.extract(payload)
	if err != nil {
		return "", false, err
	}
	if r.filter != nil && !r.filter(line) {
		r.log.Trace("feed line filtered", "line", line)
		return "", false, nil
	}
	if r.format != nil {
		line = r.format(line)
	}
	return line, true, nil
}

func (r *Reader) fail(err error) {
	if !r.active.Swap(false) {
		return
	}
	r.log.With("err", err).Warn("feed failed")
	r.deliver(fmt.Sprintf("Error: feed %s: %v", r.source, err))
}
