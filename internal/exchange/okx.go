package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/pricesentry/internal/chart"
	"github.com/sawpanic/pricesentry/internal/market"
)

const (
	okxWSURL    = "wss://ws.okx.com:8443/ws/v5/public"
	okxRESTBase = "https://www.okx.com"

	okxPingInterval = 25 * time.Second
)

// okxVariant speaks the OKX v5 public API. All symbols share one public
// endpoint; subscriptions are JSON envelopes and keepalive is the literal
// "ping"/"pong" text exchange.
type okxVariant struct {
	base string
}

func (v okxVariant) withRESTBase(base string) variant {
	v.base = base
	return v
}

func (v okxVariant) restBase() string {
	if v.base != "" {
		return v.base
	}
	return okxRESTBase
}

func (okxVariant) name() string { return OKX }

func (okxVariant) wsURL([]string) string { return okxWSURL }

func (v okxVariant) subscribeFrames(symbols []string) [][]byte {
	type arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	}
	args := make([]arg, 0, len(symbols))
	for _, sym := range symbols {
		args = append(args, arg{Channel: "tickers", InstID: v.wireSymbol(sym)})
	}
	frame, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{frame}
}

func (okxVariant) keepalive() ([]byte, time.Duration) {
	return []byte("ping"), okxPingInterval
}

func (v okxVariant) decodeFrame(data []byte) ([]tick, []byte, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("pong")) {
		return nil, nil, nil
	}
	if bytes.Equal(trimmed, []byte("ping")) {
		return nil, []byte("pong"), nil
	}

	var frame struct {
		Event string `json:"event"`
		Arg   struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstID string `json:"instId"`
			Last   string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return nil, nil, fmt.Errorf("okx frame: %w", err)
	}
	// Subscription acks and errors carry an event field.
	if frame.Event != "" || frame.Arg.Channel != "tickers" {
		return nil, nil, nil
	}

	ticks := make([]tick, 0, len(frame.Data))
	for _, d := range frame.Data {
		price, err := parsePrice(d.Last)
		if err != nil {
			return nil, nil, fmt.Errorf("okx ticker %s: %w", d.InstID, err)
		}
		ticks = append(ticks, tick{symbol: v.canonicalSymbol(d.InstID), price: price})
	}
	return ticks, nil, nil
}

func (v okxVariant) tickerURL(symbol string) string {
	return fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", v.restBase(), v.wireSymbol(symbol))
}

func (okxVariant) parseTicker(data []byte) (float64, error) {
	var body struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("okx ticker: %w", err)
	}
	if len(body.Data) == 0 {
		return 0, fmt.Errorf("okx ticker: empty data")
	}
	return parsePrice(body.Data[0].Last)
}

func (v okxVariant) ohlcvURL(symbol, timeframe string, startMs int64, limit int) string {
	// OKX paginates backwards: "after" returns candles older than the
	// given timestamp, so anchor one bar past the requested start.
	barMs := timeframeMs(timeframe)
	return fmt.Sprintf("%s/api/v5/market/history-candles?instId=%s&bar=%s&after=%d&limit=%d",
		v.restBase(), v.wireSymbol(symbol), timeframe, startMs+barMs*int64(limit), limit)
}

func (okxVariant) parseOHLCV(data []byte) ([]chart.Candle, error) {
	var body struct {
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("okx candles: %w", err)
	}

	// Rows arrive newest first.
	candles := make([]chart.Candle, 0, len(body.Data))
	for i := len(body.Data) - 1; i >= 0; i-- {
		row := body.Data[i]
		if len(row) < 6 {
			continue
		}
		c, err := candleFromStrings(row[0], row[1], row[2], row[3], row[4], row[5])
		if err != nil {
			return nil, fmt.Errorf("okx candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (v okxVariant) marketsURL() string {
	return v.restBase() + "/api/v5/public/instruments?instType=SWAP"
}

func (okxVariant) parseMarkets(data []byte) ([]market.Market, error) {
	var body struct {
		Data []struct {
			InstID    string `json:"instId"`
			State     string `json:"state"`
			SettleCcy string `json:"settleCcy"`
			CtType    string `json:"ctType"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("okx instruments: %w", err)
	}

	out := make([]market.Market, 0, len(body.Data))
	for _, d := range body.Data {
		parts := strings.Split(d.InstID, "-")
		if len(parts) < 2 {
			continue
		}
		out = append(out, market.Market{
			Symbol: canonical(parts[0]),
			Base:   parts[0],
			Quote:  parts[1],
			Settle: d.SettleCcy,
			Type:   "swap",
			Active: d.State == "live",
		})
	}
	return out, nil
}

func (okxVariant) wireSymbol(canonicalSym string) string {
	return baseOf(canonicalSym) + "-USDT-SWAP"
}

func (okxVariant) canonicalSymbol(wire string) string {
	return canonical(strings.SplitN(wire, "-", 2)[0])
}

func candleFromStrings(ts, open, high, low, closing, volume string) (chart.Candle, error) {
	var c chart.Candle
	if _, err := fmt.Sscanf(ts, "%d", &c.Timestamp); err != nil {
		return c, fmt.Errorf("bad timestamp %q: %w", ts, err)
	}
	var err error
	if c.Open, err = parsePrice(open); err != nil {
		return c, err
	}
	if c.High, err = parsePrice(high); err != nil {
		return c, err
	}
	if c.Low, err = parsePrice(low); err != nil {
		return c, err
	}
	if c.Close, err = parsePrice(closing); err != nil {
		return c, err
	}
	if c.Volume, err = parsePrice(volume); err != nil {
		return c, err
	}
	return c, nil
}

// timeframeMs converts the 1m/5m/15m/1h/1d timeframe forms to
// milliseconds per bar.
func timeframeMs(timeframe string) int64 {
	if len(timeframe) < 2 {
		return 60_000
	}
	var n int64
	if _, err := fmt.Sscanf(timeframe[:len(timeframe)-1], "%d", &n); err != nil || n <= 0 {
		return 60_000
	}
	switch timeframe[len(timeframe)-1] {
	case 'h':
		return n * 3_600_000
	case 'd':
		return n * 86_400_000
	default:
		return n * 60_000
	}
}
