// Package chart defines the pluggable chart renderer boundary. The core
// fetches OHLCV candles and hands them to a Renderer; no rendering
// implementation ships with it.
package chart

import "context"

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp int64   `json:"ts"` // bar open time, milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Options carries the renderer inputs taken from the configuration.
type Options struct {
	Timeframe string
	Theme     string
	Width     int
	Height    int
	Scale     int
}

// Renderer turns candles into an image. Implementations live outside the
// core and are injected at boot.
type Renderer interface {
	Render(ctx context.Context, symbol string, candles []Candle, opts Options) ([]byte, error)
}
