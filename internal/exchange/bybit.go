package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/pricesentry/internal/chart"
	"github.com/sawpanic/pricesentry/internal/market"
)

const (
	bybitWSURL    = "wss://stream.bybit.com/v5/public/linear"
	bybitRESTBase = "https://api.bybit.com"

	bybitPingInterval = 20 * time.Second
)

// bybitVariant speaks the Bybit v5 linear (USDT perpetual) API. Ticker
// updates arrive as snapshot/delta frames on the tickers.<SYMBOL> topic;
// operational frames carry an "op" field and are skipped.
type bybitVariant struct {
	base string
}

func (v bybitVariant) withRESTBase(base string) variant {
	v.base = base
	return v
}

func (v bybitVariant) restBase() string {
	if v.base != "" {
		return v.base
	}
	return bybitRESTBase
}

func (bybitVariant) name() string { return Bybit }

func (bybitVariant) wsURL([]string) string { return bybitWSURL }

func (v bybitVariant) subscribeFrames(symbols []string) [][]byte {
	args := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		args = append(args, "tickers."+v.wireSymbol(sym))
	}
	frame, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{frame}
}

func (bybitVariant) keepalive() ([]byte, time.Duration) {
	return []byte(`{"op":"ping"}`), bybitPingInterval
}

func (v bybitVariant) decodeFrame(data []byte) ([]tick, []byte, error) {
	var frame struct {
		Op    string `json:"op"`
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, nil, fmt.Errorf("bybit frame: %w", err)
	}
	// Pong and subscription acks carry an op field, ticker pushes a topic.
	if frame.Op != "" || !strings.HasPrefix(frame.Topic, "tickers.") {
		return nil, nil, nil
	}
	// Delta frames only carry the fields that changed; lastPrice may be
	// absent and those frames are skipped.
	if frame.Data.Symbol == "" || frame.Data.LastPrice == "" {
		return nil, nil, nil
	}
	price, err := parsePrice(frame.Data.LastPrice)
	if err != nil {
		return nil, nil, fmt.Errorf("bybit ticker %s: %w", frame.Data.Symbol, err)
	}
	return []tick{{symbol: v.canonicalSymbol(frame.Data.Symbol), price: price}}, nil, nil
}

func (v bybitVariant) tickerURL(symbol string) string {
	return fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s", v.restBase(), v.wireSymbol(symbol))
}

func (bybitVariant) parseTicker(data []byte) (float64, error) {
	var body struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("bybit ticker: %w", err)
	}
	if len(body.Result.List) == 0 {
		return 0, fmt.Errorf("bybit ticker: empty list")
	}
	return parsePrice(body.Result.List[0].LastPrice)
}

func (v bybitVariant) ohlcvURL(symbol, timeframe string, startMs int64, limit int) string {
	return fmt.Sprintf("%s/v5/market/kline?category=linear&symbol=%s&interval=%s&start=%d&limit=%d",
		v.restBase(), v.wireSymbol(symbol), bybitInterval(timeframe), startMs, limit)
}

func (bybitVariant) parseOHLCV(data []byte) ([]chart.Candle, error) {
	var body struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("bybit kline: %w", err)
	}

	// Rows arrive newest first.
	candles := make([]chart.Candle, 0, len(body.Result.List))
	for i := len(body.Result.List) - 1; i >= 0; i-- {
		row := body.Result.List[i]
		if len(row) < 6 {
			continue
		}
		c, err := candleFromStrings(row[0], row[1], row[2], row[3], row[4], row[5])
		if err != nil {
			return nil, fmt.Errorf("bybit candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (v bybitVariant) marketsURL() string {
	return v.restBase() + "/v5/market/instruments-info?category=linear&limit=1000"
}

func (bybitVariant) parseMarkets(data []byte) ([]market.Market, error) {
	var body struct {
		Result struct {
			List []struct {
				Symbol       string `json:"symbol"`
				ContractType string `json:"contractType"`
				Status       string `json:"status"`
				BaseCoin     string `json:"baseCoin"`
				QuoteCoin    string `json:"quoteCoin"`
				SettleCoin   string `json:"settleCoin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("bybit instruments: %w", err)
	}

	out := make([]market.Market, 0, len(body.Result.List))
	for _, d := range body.Result.List {
		kind := "future"
		if d.ContractType == "LinearPerpetual" {
			kind = "swap"
		}
		out = append(out, market.Market{
			Symbol: canonical(d.BaseCoin),
			Base:   d.BaseCoin,
			Quote:  d.QuoteCoin,
			Settle: d.SettleCoin,
			Type:   kind,
			Active: d.Status == "Trading",
		})
	}
	return out, nil
}

func (bybitVariant) wireSymbol(canonicalSym string) string {
	return baseOf(canonicalSym) + "USDT"
}

func (bybitVariant) canonicalSymbol(wire string) string {
	return canonical(strings.TrimSuffix(strings.ToUpper(wire), "USDT"))
}

// bybitInterval maps timeframe strings to the v5 kline interval codes
// (minutes as bare numbers, D for daily).
func bybitInterval(timeframe string) string {
	switch timeframe {
	case "1h":
		return "60"
	case "1d":
		return "D"
	default:
		return strings.TrimSuffix(timeframe, "m")
	}
}
