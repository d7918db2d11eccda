package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// DefaultCoinGeckoURL is the public REST endpoint.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGecko fetches per-coin price and volume history from the free REST
// API. The endpoint is rate limited; requests back off and retry until the
// context expires.
type CoinGecko struct {
	HTTP    *http.Client
	BaseURL string
	Log     zerolog.Logger

	// Retry controls the back-off between rate-limited attempts.
	Retry time.Duration
}

// NewCoinGecko returns a client with sane defaults.
func NewCoinGecko(log zerolog.Logger) *CoinGecko {
	return &CoinGecko{
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		BaseURL: DefaultCoinGeckoURL,
		Log:     log,
		Retry:   100 * time.Millisecond,
	}
}

// ChartPoint is one [timestamp-ms, value] entry of a market chart.
type ChartPoint [2]float64

// MarketChart is the raw per-coin series the REST API returns.
type MarketChart struct {
	Prices       []ChartPoint `json:"prices"`
	TotalVolumes []ChartPoint `json:"total_volumes"`
}

// MarketChart fetches the raw price/volume chart for one coin id against
// vs over the trailing days.
func (c *CoinGecko) MarketChart(ctx context.Context, id, vs string, days int) (*MarketChart, error) {
	u := fmt.Sprintf("%s/coins/%s/market_chart?%s", c.BaseURL, url.PathEscape(id), url.Values{
		"vs_currency": {vs},
		"days":        {strconv.Itoa(days)},
	}.Encode())

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDataUnavailable, err)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDataUnavailable, err)
		}

		if resp.StatusCode == http.StatusOK {
			var chart MarketChart
			err := json.NewDecoder(resp.Body).Decode(&chart)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: decoding %s: %s", ErrDataUnavailable, id, err)
			}
			if len(chart.Prices) == 0 {
				return nil, fmt.Errorf("%w: empty chart for %s", ErrDataUnavailable, id)
			}
			return &chart, nil
		}
		resp.Body.Close()

		c.Log.Debug().Str("coin", id).Int("status", resp.StatusCode).Msg("coingecko retry")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrDataUnavailable, ctx.Err())
		case <-time.After(c.Retry):
		}
	}
}

// PoolPrices fetches every coin's chart and derives the per-pair table:
// pair prices divide the coin prices, pair volumes sum them. Samples are
// reindexed onto an hourly grid ending yesterday 23:30 UTC with forward
// fill, matching the granularity the free API provides for a 60-day
// window.
func (c *CoinGecko) PoolPrices(ctx context.Context, ids []string, vs string, days int) (*Frames, error) {
	end := time.Now().UTC().AddDate(0, 0, -1)
	end = time.Date(end.Year(), end.Month(), end.Day(), 23, 30, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -(days + 1))

	index := make([]primitives.Time, 0, days*24)
	for ts := start; !ts.After(end); ts = ts.Add(time.Hour) {
		index = append(index, primitives.NewTime(ts))
	}

	coinPrices := make([][]float64, len(ids))
	coinVolumes := make([][]float64, len(ids))
	for ci, id := range ids {
		chart, err := c.MarketChart(ctx, id, vs, days+3)
		if err != nil {
			return nil, err
		}
		coinPrices[ci] = reindex(chart.Prices, index)
		coinVolumes[ci] = reindex(chart.TotalVolumes, index)
	}

	pairs := pool.Pairs(len(ids))
	prices := make([][]float64, len(index))
	volumes := make([][]float64, len(index))
	for t := range index {
		prices[t] = make([]float64, len(pairs))
		volumes[t] = make([]float64, len(pairs))
		for k, pr := range pairs {
			if coinPrices[pr[1]][t] != 0 {
				prices[t][k] = coinPrices[pr[0]][t] / coinPrices[pr[1]][t]
			}
			volumes[t][k] = coinVolumes[pr[0]][t] + coinVolumes[pr[1]][t]
		}
	}

	f, err := NewFrames(len(ids), index, prices, volumes)
	if err != nil {
		return nil, err
	}
	f.PZero = fillForward(f.Prices)
	return f, nil
}

// reindex forward-fills chart points onto the target index.
func reindex(points []ChartPoint, index []primitives.Time) []float64 {
	out := make([]float64, len(index))
	k := 0
	last := 0.0
	for t, ts := range index {
		for k < len(points) && int64(points[k][0])/1000 <= ts.Unix() {
			last = points[k][1]
			k++
		}
		out[t] = last
	}
	return out
}
