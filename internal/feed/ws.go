package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/flipbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the fixed pause between reconnect attempts. Retries
	// never give up; a dead exchange feed must not kill the process.
	reconnectDelay = 5 * time.Second

	// refreshInterval is how often the subscription set is rebuilt from the
	// open positions, whether or not the socket survived that long.
	refreshInterval = 60 * time.Second
)

// wsCommand is the subscribe/unsubscribe envelope of the exchange feed.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Markets []string `json:"markets"`
}

// wsPriceMessage is a single price tick off the wire.
type wsPriceMessage struct {
	Event    string `json:"event"`
	MarketID string `json:"market_id"`
	Price    string `json:"price"`
}

// WSFeed streams prices for every market with an open position. It dials the
// exchange WebSocket, subscribes per open market, rebuilds the subscription
// set every minute and reconnects forever on a fixed delay.
type WSFeed struct {
	wsURL     string
	positions domain.PositionStore
	prices    domain.PriceCache
	onPrice   PriceHandler
	logger    *slog.Logger
}

var _ PriceFeed = (*WSFeed)(nil)

func NewWSFeed(wsURL string, positions domain.PositionStore, prices domain.PriceCache, onPrice PriceHandler, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:     wsURL,
		positions: positions,
		prices:    prices,
		onPrice:   onPrice,
		logger:    logger.With(slog.String("component", "ws_feed")),
	}
}

// Run connects and streams until ctx is cancelled. Every disconnect, dial
// failure included, waits reconnectDelay and tries again with a fresh
// subscription set.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		if err := f.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
				slog.Duration("delay", reconnectDelay),
				slog.Any("error", err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// runConnection owns one socket lifetime: dial, subscribe, then read until
// the socket or ctx dies. The refresh ticker diffs the open position set and
// adjusts subscriptions on the live connection.
func (f *WSFeed) runConnection(ctx context.Context) error {
	markets, err := f.openMarkets(ctx)
	if err != nil {
		return fmt.Errorf("feed: list open positions: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if len(markets) > 0 {
		if err := f.send(conn, wsCommand{Type: "subscribe", Channel: "price", Markets: markets}); err != nil {
			return fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	f.logger.InfoContext(ctx, "feed subscribed", slog.Int("markets", len(markets)))

	// The reader goroutine owns conn reads; everything else writes.
	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	subscribed := markets
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("feed: read: %w (%v)", domain.ErrFeedDisconnected, err)

		case raw := <-msgs:
			f.handleMessage(ctx, raw)

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("feed: ping: %w", err)
			}

		case <-refreshTicker.C:
			current, err := f.openMarkets(ctx)
			if err != nil {
				f.logger.WarnContext(ctx, "subscription refresh failed", slog.Any("error", err))
				continue
			}
			add, remove := diffMarkets(subscribed, current)
			if len(add) > 0 {
				if err := f.send(conn, wsCommand{Type: "subscribe", Channel: "price", Markets: add}); err != nil {
					return fmt.Errorf("feed: subscribe new markets: %w", err)
				}
			}
			if len(remove) > 0 {
				if err := f.send(conn, wsCommand{Type: "unsubscribe", Channel: "price", Markets: remove}); err != nil {
					return fmt.Errorf("feed: unsubscribe closed markets: %w", err)
				}
			}
			if len(add) > 0 || len(remove) > 0 {
				f.logger.InfoContext(ctx, "subscriptions refreshed",
					slog.Int("added", len(add)),
					slog.Int("removed", len(remove)),
				)
			}
			subscribed = current
		}
	}
}

// handleMessage decodes one wire message and delivers price events.
// Unparseable or unknown messages are dropped silently.
func (f *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg wsPriceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Event != "price" || msg.MarketID == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return
	}
	if price < 0 || price > 1 {
		return
	}

	if f.prices != nil {
		if err := f.prices.SetPrice(ctx, msg.MarketID, price, time.Now().UTC()); err != nil {
			f.logger.WarnContext(ctx, "price cache write failed",
				slog.String("market_id", msg.MarketID),
				slog.Any("error", err),
			)
		}
	}
	if f.onPrice != nil {
		if err := f.onPrice(ctx, msg.MarketID, price); err != nil {
			f.logger.WarnContext(ctx, "price handler failed",
				slog.String("market_id", msg.MarketID),
				slog.Any("error", err),
			)
		}
	}
}

func (f *WSFeed) send(conn *websocket.Conn, cmd wsCommand) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (f *WSFeed) openMarkets(ctx context.Context) ([]string, error) {
	open, err := f.positions.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	markets := make([]string, 0, len(open))
	for _, pos := range open {
		markets = append(markets, pos.MarketID)
	}
	sort.Strings(markets)
	return markets, nil
}

// diffMarkets returns the markets to subscribe and unsubscribe to move from
// old to current. Both inputs are sorted.
func diffMarkets(old, current []string) (add, remove []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, m := range old {
		oldSet[m] = struct{}{}
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, m := range current {
		currentSet[m] = struct{}{}
	}
	for _, m := range current {
		if _, ok := oldSet[m]; !ok {
			add = append(add, m)
		}
	}
	for _, m := range old {
		if _, ok := currentSet[m]; !ok {
			remove = append(remove, m)
		}
	}
	return add, remove
}
