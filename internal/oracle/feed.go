package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Tick is one price message from the feed. TS is unix milliseconds.
type Tick struct {
	Subject string          `json:"subject"`
	Value   decimal.Decimal `json:"value"`
	TS      int64           `json:"ts"`
}

type subscribeCommand struct {
	Type     string   `json:"type"`
	Subjects []string `json:"subjects"`
}

// Feed streams ticks from a websocket price source into a PriceHistory. It
// reconnects with exponential backoff until its context is cancelled.
type Feed struct {
	url      string
	header   http.Header
	subjects []string
	history  domain.PriceHistory
	logger   *slog.Logger
}

// NewFeed creates a Feed subscribed to subjects on url.
func NewFeed(url string, header http.Header, subjects []string, history domain.PriceHistory, logger *slog.Logger) *Feed {
	return &Feed{
		url:      url,
		header:   header,
		subjects: subjects,
		history:  history,
		logger:   logger.With(slog.String("component", "price_feed")),
	}
}

// Run connects and records ticks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.subjects) == 0 {
		f.logger.InfoContext(ctx, "no subjects to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		began := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up for a while resets the backoff.
		if time.Since(began) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "price feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		return fmt.Errorf("oracle/feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Subjects: f.subjects}); err != nil {
		return fmt.Errorf("oracle/feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "price feed subscribed", slog.String("subjects", strings.Join(f.subjects, ",")))

	stop := make(chan struct{})
	defer close(stop)
	go f.keepAlive(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("oracle/feed: read: %w", err)
		}
		f.handle(ctx, data)
	}
}

// keepAlive pings the server and closes the connection when ctx ends so the
// blocked read returns.
func (f *Feed) keepAlive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handle records one message. The server may batch ticks into an array.
func (f *Feed) handle(ctx context.Context, data []byte) {
	var ticks []Tick
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &ticks); err != nil {
			f.logger.DebugContext(ctx, "unparseable batch", slog.String("error", err.Error()))
			return
		}
	} else {
		var t Tick
		if err := json.Unmarshal(data, &t); err != nil {
			f.logger.DebugContext(ctx, "unparseable message", slog.String("error", err.Error()))
			return
		}
		ticks = []Tick{t}
	}

	for _, t := range ticks {
		if t.Subject == "" || t.TS <= 0 {
			continue
		}
		obs := domain.Observation{
			Subject:    t.Subject,
			Value:      t.Value,
			ObservedAt: time.UnixMilli(t.TS).UTC(),
		}
		if err := f.history.Record(ctx, obs); err != nil {
			f.logger.WarnContext(ctx, "record observation failed",
				slog.String("subject", t.Subject),
				slog.String("error", err.Error()),
			)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
