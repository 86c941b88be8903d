package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// StdIO is a Transport that frames messages as newline-delimited JSON over an
// io.Reader/io.Writer pair, typically a subprocess's stdin and stdout. Both
// sides of a session can use it.
//
// Create instances with NewStdIO and release them with Close.
type StdIO struct {
	writer io.Writer
	reader io.Reader
	logger *slog.Logger

	incoming chan stdioRead

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

type stdioRead struct {
	msg Message
	err error
}

// StdIOOption is a function that configures a StdIO transport.
type StdIOOption func(*StdIO)

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger
	}
}

// NewStdIO creates a transport reading from reader and writing to writer. The
// background read loop starts immediately.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		writer:   writer,
		reader:   reader,
		logger:   slog.Default(),
		incoming: make(chan stdioRead),
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	go s.read()
	return s
}

// Send writes msg as a single JSON line. Safe for concurrent use.
func (s *StdIO) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive blocks until the next line decodes into a message. It returns
// io.EOF when the underlying reader is exhausted or the transport is closed.
func (s *StdIO) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, io.EOF
	case r, ok := <-s.incoming:
		if !ok {
			return nil, io.EOF
		}
		return r.msg, r.err
	}
}

// Close stops the transport. If the reader or writer implement io.Closer they
// are closed too, which unblocks the read loop.
func (s *StdIO) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if c, ok := s.reader.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
		if c, ok := s.writer.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	})
	return err
}

func (s *StdIO) read() {
	defer close(s.incoming)

	// bufio.Reader instead of bufio.Scanner to avoid max token size errors
	// on large messages.
	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("failed to read message", slog.String("err", err.Error()))
				s.deliver(stdioRead{err: fmt.Errorf("failed to read message: %w", err)})
				return
			}
			// A partial line without a trailing newline still counts.
			if line = strings.TrimSpace(line); line != "" {
				if !s.deliver(s.decode(line)) {
					return
				}
			}
			s.deliver(stdioRead{err: io.EOF})
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !s.deliver(s.decode(line)) {
			return
		}
	}
}

func (s *StdIO) decode(line string) stdioRead {
	msg, err := DecodeMessage([]byte(line))
	if err != nil {
		return stdioRead{err: fmt.Errorf("failed to decode message: %w", err)}
	}
	return stdioRead{msg: msg}
}

func (s *StdIO) deliver(r stdioRead) bool {
	select {
	case s.incoming <- r:
		return true
	case <-s.done:
		return false
	}
}
