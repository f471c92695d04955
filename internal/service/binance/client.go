package binance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"EdgeLab/internal/domain/models"
	drepo "EdgeLab/internal/domain/repository"
	"EdgeLab/internal/service/ratelimit"
	xhttp "EdgeLab/pkg/http"
	applogger "EdgeLab/pkg/logger"
)

const restLimitKey = "binance_rest"

// Backfill implements a finite ObservationFeed over the Binance REST klines
// endpoint. It pages each symbol forward from the requested lookback, merges
// all symbols into one time-ordered replay, then closes the channel.
type Backfill struct {
	log       *applogger.Logger
	restURL   string
	symbols   []string
	timeframe drepo.Timeframe
	bars      int
	batchSize int
	limiter   *ratelimit.Limiter
	rps       float64
	http      *xhttp.Client
	connected bool
}

// NewBackfill creates a new REST backfill feed.
func NewBackfill(
	log *applogger.Logger,
	restURL string,
	symbols []string,
	tf drepo.Timeframe,
	bars, batchSize int,
	limiter *ratelimit.Limiter,
	rps float64,
) drepo.ObservationFeed {
	if bars <= 0 {
		bars = 1000
	}
	if batchSize <= 0 || batchSize > 1000 {
		batchSize = 500
	}
	if rps <= 0 {
		rps = 5
	}
	return &Backfill{
		log:       log,
		restURL:   restURL,
		symbols:   symbols,
		timeframe: tf,
		bars:      bars,
		batchSize: batchSize,
		limiter:   limiter,
		rps:       rps,
		http:      xhttp.NewClient(xhttp.WithTimeout(15 * time.Second)),
	}
}

// Connect verifies the REST endpoint is reachable.
func (b *Backfill) Connect(ctx context.Context) error {
	err := b.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    b.restURL + "/api/v3/ping",
	}, nil)
	if err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	b.connected = true
	return nil
}

// Subscribe is a no-op for REST backfill.
func (b *Backfill) Subscribe(ctx context.Context) error { return nil }

// Read fetches the lookback for every symbol and replays it in timestamp
// order. The observation channel closes when the range is exhausted.
func (b *Backfill) Read(ctx context.Context) (<-chan *models.Observation, <-chan error) {
	obs := make(chan *models.Observation, 1024)
	errs := make(chan error, 1)

	go func() {
		defer close(obs)
		defer close(errs)

		all := make([]*models.Observation, 0, b.bars*len(b.symbols))
		for _, sym := range b.symbols {
			rows, err := b.fetchSymbol(ctx, sym)
			if err != nil {
				errs <- err
				return
			}
			all = append(all, rows...)
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].Timestamp.Equal(all[j].Timestamp) {
				return all[i].Timestamp.Before(all[j].Timestamp)
			}
			return all[i].Symbol < all[j].Symbol
		})

		for _, o := range all {
			select {
			case <-ctx.Done():
				return
			case obs <- o:
			}
		}
		b.log.Info("backfill complete",
			applogger.Int("bars", len(all)),
			applogger.Int("symbols", len(b.symbols)))
	}()

	return obs, errs
}

func (b *Backfill) fetchSymbol(ctx context.Context, symbol string) ([]*models.Observation, error) {
	interval := b.timeframe.Interval()
	end := time.Now().UTC().Truncate(interval) // open of the forming bar
	cursor := end.Add(-time.Duration(b.bars) * interval)

	out := make([]*models.Observation, 0, b.bars)
	for cursor.Before(end) {
		if err := b.wait(ctx); err != nil {
			return nil, err
		}

		var raw [][]interface{}
		err := b.http.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodGet,
			URL:    b.restURL + "/api/v3/klines",
			QueryParams: map[string][]string{
				"symbol":    {symbol},
				"interval":  {string(b.timeframe)},
				"startTime": {strconv.FormatInt(cursor.UnixMilli(), 10)},
				"endTime":   {strconv.FormatInt(end.UnixMilli()-1, 10)},
				"limit":     {strconv.Itoa(b.batchSize)},
			},
		}, &raw)
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s: %w", symbol, err)
		}
		if len(raw) == 0 {
			break
		}

		for _, row := range raw {
			o, err := parseKlineRow(symbol, row)
			if err != nil {
				b.log.Warn("skip malformed kline",
					applogger.String("symbol", symbol),
					applogger.Error(err))
				continue
			}
			out = append(out, o)
		}

		lastOpen, ok := raw[len(raw)-1][0].(float64)
		if !ok {
			break
		}
		next := time.UnixMilli(int64(lastOpen)).UTC().Add(interval)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	return out, nil
}

// wait blocks until the shared token bucket grants one REST request.
func (b *Backfill) wait(ctx context.Context) error {
	for {
		if b.limiter.Allow(restLimitKey, b.rps, b.rps) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// kline row layout: [openTime, open, high, low, close, volume, closeTime, ...]
func parseKlineRow(symbol string, row []interface{}) (*models.Observation, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("short kline row: %d fields", len(row))
	}
	openMs, ok := row[0].(float64)
	if !ok {
		return nil, fmt.Errorf("bad open time %v", row[0])
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		s, ok := row[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("bad kline field %d: %v", i+1, row[i+1])
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline field %d: %w", i+1, err)
		}
		vals[i] = f
	}
	return &models.Observation{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(int64(openMs)).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// Reconnect is a no-op for REST backfill.
func (b *Backfill) Reconnect(ctx context.Context) error { return nil }

// Close marks the feed closed.
func (b *Backfill) Close() error {
	b.connected = false
	return nil
}

// IsConnected indicates status.
func (b *Backfill) IsConnected() bool { return b.connected }
