package realtime

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGracePeriod = time.Second
	maxLineBytes     = 1 << 20
)

// Source reads realtime events from a websocket connection
type Source struct {
	conn *websocket.Conn
	log  *logger.Logger
}

// Dial connects to a realtime event stream
func Dial(ctx context.Context, url string, header http.Header, log *logger.Logger) (*Source, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "dial realtime stream: %v", err)
	}
	return NewSource(conn, log), nil
}

// NewSource wraps an established connection
func NewSource(conn *websocket.Conn, log *logger.Logger) *Source {
	if log == nil {
		log = logger.NewNop()
	}
	return &Source{conn: conn, log: log.Component("realtime_source")}
}

// Run feeds every text message to h until ctx is done or the peer closes the
// connection. Handler errors are logged and reading continues. Run closes the
// connection before returning.
func (s *Source) Run(ctx context.Context, h Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod),
			)
			s.conn.Close()
		case <-stop:
		}
	}()
	defer s.conn.Close()

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("Realtime stream closed")
				return nil
			}
			return errors.Wrapf(errors.ErrUnavailable, "read realtime stream: %v", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if err := h.Handle(ctx, message); err != nil {
			s.log.Debugw("Skipping realtime event", "error", err)
		}
	}
}

// ReadLines feeds one event per line from r to h and returns how many lines
// were handled. Blank lines are skipped.
func ReadLines(ctx context.Context, r io.Reader, h Handler, log *logger.Logger) (int, error) {
	if log == nil {
		log = logger.NewNop()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	handled := 0
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if err := h.Handle(ctx, raw); err != nil {
			log.Debugw("Skipping realtime event", "line", line, "error", err)
			continue
		}
		handled++
	}
	if err := scanner.Err(); err != nil {
		return handled, errors.Wrapf(errors.ErrInvalidInput, "read events: %v", err)
	}
	return handled, nil
}
