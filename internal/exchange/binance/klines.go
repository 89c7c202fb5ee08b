package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"klinesim/internal/logger"
	"klinesim/internal/market"

	"github.com/tidwall/gjson"
)

const klinesBatchLimit = 1000

// RawHistoricalKlines pulls [start, end) straight from REST /api/v3/klines,
// batching until the window is exhausted. No cache involvement; the caller
// decides what to persist.
func (h *Handler) RawHistoricalKlines(ctx context.Context, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	dur := interval.Duration()
	if dur <= 0 {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}
	start = start.UTC()
	end = end.UTC()

	var out []market.Candle
	cursor := start
	for cursor.Before(end) {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		batch, err := h.fetchKlinesBatch(ctx, pair, interval, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			// venue has nothing more in this window
			break
		}
		out = append(out, batch...)
		next := batch[len(batch)-1].OpenTime.Add(dur)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	logger.Debugf("[binance] %s %s: fetched %d raw klines in [%s, %s)",
		pair, interval, len(out), start.Format(time.RFC3339), end.Format(time.RFC3339))
	return out, nil
}

func (h *Handler) fetchKlinesBatch(ctx context.Context, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	u, err := url.Parse(h.cfg.RESTBaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/api/v3/klines"
	q := u.Query()
	q.Set("symbol", h.ConvertPairSymbol(pair))
	q.Set("interval", h.ConvertInterval(interval))
	q.Set("limit", strconv.Itoa(klinesBatchLimit))
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	// binance treats endTime as inclusive; the window here is half-open
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("binance klines status %d: %s", resp.StatusCode, gjson.GetBytes(body, "msg").String())
	}
	return h.parseKlines(body, pair, interval, end), nil
}

// parseKlines decodes the venue's row-array reply. Rows whose close time runs
// past the window end are still forming and are dropped; the cache only ever
// holds completed candles.
func (h *Handler) parseKlines(body []byte, pair market.Pair, interval market.Interval, end time.Time) []market.Candle {
	dur := interval.Duration()
	rows := gjson.ParseBytes(body).Array()
	out := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		cols := row.Array()
		if len(cols) < 6 {
			continue
		}
		openTime := time.UnixMilli(cols[0].Int()).UTC()
		if openTime.Add(dur).After(end) {
			continue
		}
		out = append(out, market.Candle{
			Exchange: h.Name(),
			Pair:     pair,
			Interval: interval,
			OpenTime: openTime,
			Open:     cols[1].Float(),
			High:     cols[2].Float(),
			Low:      cols[3].Float(),
			Close:    cols[4].Float(),
			Volume:   cols[5].Float(),
		})
	}
	return out
}
