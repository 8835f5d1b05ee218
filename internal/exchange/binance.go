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
	binanceWSBase   = "wss://fstream.binance.com/ws"
	binanceRESTBase = "https://fapi.binance.com"
)

// binanceVariant speaks the Binance USDT-margined futures API. Streams
// are selected through the connection URI, so no subscribe frame is sent,
// and the server drives keepalive with transport-level pings.
type binanceVariant struct {
	base string
}

func (v binanceVariant) withRESTBase(base string) variant {
	v.base = base
	return v
}

func (v binanceVariant) restBase() string {
	if v.base != "" {
		return v.base
	}
	return binanceRESTBase
}

func (binanceVariant) name() string { return Binance }

func (v binanceVariant) wsURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(v.wireSymbol(sym))+"@ticker")
	}
	return binanceWSBase + "/" + strings.Join(streams, "/")
}

func (binanceVariant) subscribeFrames([]string) [][]byte { return nil }

func (binanceVariant) keepalive() ([]byte, time.Duration) { return nil, 0 }

func (v binanceVariant) decodeFrame(data []byte) ([]tick, []byte, error) {
	var frame struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Last   string `json:"c"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, nil, fmt.Errorf("binance frame: %w", err)
	}
	if frame.Event != "24hrTicker" || frame.Symbol == "" {
		return nil, nil, nil
	}
	price, err := parsePrice(frame.Last)
	if err != nil {
		return nil, nil, fmt.Errorf("binance ticker %s: %w", frame.Symbol, err)
	}
	return []tick{{symbol: v.canonicalSymbol(frame.Symbol), price: price}}, nil, nil
}

func (v binanceVariant) tickerURL(symbol string) string {
	return fmt.Sprintf("%s/fapi/v1/ticker/price?symbol=%s", v.restBase(), v.wireSymbol(symbol))
}

func (binanceVariant) parseTicker(data []byte) (float64, error) {
	var body struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("binance ticker: %w", err)
	}
	return parsePrice(body.Price)
}

func (v binanceVariant) ohlcvURL(symbol, timeframe string, startMs int64, limit int) string {
	return fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&startTime=%d&limit=%d",
		v.restBase(), v.wireSymbol(symbol), timeframe, startMs, limit)
}

func (binanceVariant) parseOHLCV(data []byte) ([]chart.Candle, error) {
	// Kline rows are heterogenous arrays: open time, then OHLCV strings.
	var rows [][]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	candles := make([]chart.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("binance kline open time: %w", err)
		}
		vals, err := decodeStringFloats(row[1:6])
		if err != nil {
			return nil, fmt.Errorf("binance kline: %w", err)
		}
		candles = append(candles, chart.Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return candles, nil
}

func (v binanceVariant) marketsURL() string {
	return v.restBase() + "/fapi/v1/exchangeInfo"
}

func (binanceVariant) parseMarkets(data []byte) ([]market.Market, error) {
	var body struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			BaseAsset    string `json:"baseAsset"`
			QuoteAsset   string `json:"quoteAsset"`
			MarginAsset  string `json:"marginAsset"`
			ContractType string `json:"contractType"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}

	out := make([]market.Market, 0, len(body.Symbols))
	for _, s := range body.Symbols {
		kind := "future"
		if s.ContractType == "PERPETUAL" {
			kind = "swap"
		}
		out = append(out, market.Market{
			Symbol: canonical(s.BaseAsset),
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Settle: s.MarginAsset,
			Type:   kind,
			Active: s.Status == "TRADING",
		})
	}
	return out, nil
}

func (binanceVariant) wireSymbol(canonicalSym string) string {
	return baseOf(canonicalSym) + "USDT"
}

func (binanceVariant) canonicalSymbol(wire string) string {
	return canonical(strings.TrimSuffix(strings.ToUpper(wire), "USDT"))
}

func decodeStringFloats(raw []json.RawMessage) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return nil, err
		}
		v, err := parsePrice(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
