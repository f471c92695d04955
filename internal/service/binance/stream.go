package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"EdgeLab/internal/domain/models"
	drepo "EdgeLab/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Stream implements an ObservationFeed backed by the Binance kline
// WebSocket. Only closed bars are emitted; in-progress kline frames are
// skipped.
type Stream struct {
	websocketURL   string
	symbols        []string
	timeframe      drepo.Timeframe
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// NewStream creates a new Binance kline ObservationFeed.
func NewStream(websocketURL string, symbols []string, tf drepo.Timeframe, reconnectDelay, pingInterval time.Duration) drepo.ObservationFeed {
	return &Stream{
		websocketURL:   websocketURL,
		symbols:        symbols,
		timeframe:      tf,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Stream) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s/ws", c.websocketURL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("binance: connected")
	return nil
}

// Subscribe subscribes to kline streams for the configured symbols.
func (c *Stream) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("binance not connected")
	}
	params := make([]string, 0, len(c.symbols))
	for _, s := range c.symbols {
		params = append(params, fmt.Sprintf("%s@kline_%s", strings.ToLower(s), c.timeframe))
	}
	msg := map[string]interface{}{"method": "SUBSCRIBE", "params": params, "id": 1}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("binance: subscribed %s", strings.Join(params, ","))
	return nil
}

type wsKline struct {
	T int64  `json:"t"` // open time, ms
	S string `json:"s"`
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	V string `json:"v"`
	X bool   `json:"x"` // bar closed
}

type wsMessage struct {
	Event string  `json:"e"`
	K     wsKline `json:"k"`
}

// Read streams closed bars and errors.
func (c *Stream) Read(ctx context.Context) (<-chan *models.Observation, <-chan error) {
	obs := make(chan *models.Observation, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(obs)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("binance conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("binance read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore subscribe acks and other non-kline frames
					continue
				}
				if m.Event != "kline" || !m.K.X {
					continue
				}
				o, err := klineObservation(m.K)
				if err != nil {
					continue
				}
				select {
				case obs <- o:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return obs, errs
}

func klineObservation(k wsKline) (*models.Observation, error) {
	open, err := strconv.ParseFloat(k.O, 64)
	if err != nil {
		return nil, err
	}
	high, err := strconv.ParseFloat(k.H, 64)
	if err != nil {
		return nil, err
	}
	low, err := strconv.ParseFloat(k.L, 64)
	if err != nil {
		return nil, err
	}
	cls, err := strconv.ParseFloat(k.C, 64)
	if err != nil {
		return nil, err
	}
	vol, err := strconv.ParseFloat(k.V, 64)
	if err != nil {
		return nil, err
	}
	return &models.Observation{
		Symbol:    k.S,
		Timestamp: time.UnixMilli(k.T).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

// Reconnect closes and reconnects.
func (c *Stream) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Stream) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Stream) IsConnected() bool { return c.connected }
