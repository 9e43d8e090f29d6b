package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"nhooyr.io/websocket"

	"farmnet/services/harvestd/storage"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// event mirrors the node's websocket payload.
type event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Ingester consumes the node's event stream and persists every event.
type Ingester struct {
	url    string
	store  *storage.Store
	logger *slog.Logger
}

// New builds an ingester reading from the node websocket URL.
func New(url string, store *storage.Store, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{url: url, store: store, logger: logger}
}

// Run connects to the node and consumes events until ctx is cancelled. Lost
// connections are retried with exponential backoff; the node replays nothing,
// so a gap during reconnect is a gap in the index.
func (i *Ingester) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := i.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.logger.Warn("event stream disconnected",
			slog.String("url", i.url),
			slog.Duration("retry_in", backoff),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (i *Ingester) consume(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, i.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "ingest stopped")

	i.logger.Info("connected to node event stream", slog.String("url", i.url))

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		var evt event
		if err := json.Unmarshal(data, &evt); err != nil {
			i.logger.Warn("dropping malformed event", slog.Any("error", err))
			continue
		}
		if evt.Type == "" {
			continue
		}
		if _, err := i.store.SaveEvent(evt.Type, evt.Attributes); err != nil {
			// Storage failures are fatal: continuing would silently
			// under-count totals.
			return errors.Join(errors.New("ingest: persist event"), err)
		}
	}
}
