package exchange

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantFor(t *testing.T) {
	t.Run("supported_exchanges", func(t *testing.T) {
		for _, name := range []string{Binance, OKX, Bybit} {
			v, err := variantFor(name)
			require.NoError(t, err)
			assert.Equal(t, name, v.name())
		}
	})

	t.Run("unknown_exchange", func(t *testing.T) {
		_, err := variantFor("kraken")
		assert.Error(t, err)
	})
}

func TestSymbolMapping(t *testing.T) {
	cases := []struct {
		exchange  string
		wire      string
		canonical string
	}{
		{Binance, "BTCUSDT", "BTC/USDT:USDT"},
		{Bybit, "ETHUSDT", "ETH/USDT:USDT"},
		{OKX, "SOL-USDT-SWAP", "SOL/USDT:USDT"},
	}
	for _, tc := range cases {
		t.Run(tc.exchange, func(t *testing.T) {
			v, err := variantFor(tc.exchange)
			require.NoError(t, err)
			assert.Equal(t, tc.wire, v.wireSymbol(tc.canonical))
			assert.Equal(t, tc.canonical, v.canonicalSymbol(tc.wire))
		})
	}
}

func TestEnsureCanonical(t *testing.T) {
	assert.Equal(t, "BTC/USDT:USDT", ensureCanonical("BTC"))
	assert.Equal(t, "BTC/USDT:USDT", ensureCanonical("BTC/USDT"))
	assert.Equal(t, "BTC/USDT:USDT", ensureCanonical("BTC/USDT:USDT"))
	assert.Equal(t, "", ensureCanonical("  "))
}

func TestBinanceVariant(t *testing.T) {
	v := binanceVariant{}

	t.Run("ws_url_joins_lowercase_streams", func(t *testing.T) {
		url := v.wsURL([]string{"BTC/USDT:USDT", "ETH/USDT:USDT"})
		assert.Equal(t, "wss://fstream.binance.com/ws/btcusdt@ticker/ethusdt@ticker", url)
		assert.Nil(t, v.subscribeFrames([]string{"BTC/USDT:USDT"}))
	})

	t.Run("decode_ticker_frame", func(t *testing.T) {
		ticks, pong, err := v.decodeFrame([]byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"64250.10"}`))
		require.NoError(t, err)
		assert.Nil(t, pong)
		require.Len(t, ticks, 1)
		assert.Equal(t, "BTC/USDT:USDT", ticks[0].symbol)
		assert.Equal(t, 64250.10, ticks[0].price)
	})

	t.Run("other_events_skipped", func(t *testing.T) {
		ticks, _, err := v.decodeFrame([]byte(`{"e":"markPriceUpdate","s":"BTCUSDT","p":"1"}`))
		require.NoError(t, err)
		assert.Empty(t, ticks)
	})

	t.Run("bad_json_is_error", func(t *testing.T) {
		_, _, err := v.decodeFrame([]byte(`not json`))
		assert.Error(t, err)
	})

	t.Run("parse_ticker", func(t *testing.T) {
		price, err := v.parseTicker([]byte(`{"symbol":"BTCUSDT","price":"64000.5"}`))
		require.NoError(t, err)
		assert.Equal(t, 64000.5, price)
	})

	t.Run("parse_klines", func(t *testing.T) {
		body := `[[1700000000000,"100.0","110.0","90.0","105.0","1234.5",1700000059999,"0",0,"0","0","0"]]`
		candles, err := v.parseOHLCV([]byte(body))
		require.NoError(t, err)
		require.Len(t, candles, 1)
		assert.Equal(t, int64(1700000000000), candles[0].Timestamp)
		assert.Equal(t, 105.0, candles[0].Close)
		assert.Equal(t, 1234.5, candles[0].Volume)
	})

	t.Run("parse_markets", func(t *testing.T) {
		body := `{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","marginAsset":"USDT","contractType":"PERPETUAL"},
			{"symbol":"ETHUSDT_240927","status":"SETTLING","baseAsset":"ETH","quoteAsset":"USDT","marginAsset":"USDT","contractType":"CURRENT_QUARTER"}
		]}`
		markets, err := v.parseMarkets([]byte(body))
		require.NoError(t, err)
		require.Len(t, markets, 2)
		assert.Equal(t, "BTC/USDT:USDT", markets[0].Symbol)
		assert.Equal(t, "swap", markets[0].Type)
		assert.True(t, markets[0].Active)
		assert.Equal(t, "future", markets[1].Type)
		assert.False(t, markets[1].Active)
	})
}

func TestOKXVariant(t *testing.T) {
	v := okxVariant{}

	t.Run("subscribe_frame", func(t *testing.T) {
		frames := v.subscribeFrames([]string{"BTC/USDT:USDT"})
		require.Len(t, frames, 1)
		assert.JSONEq(t, `{"op":"subscribe","args":[{"channel":"tickers","instId":"BTC-USDT-SWAP"}]}`, string(frames[0]))
	})

	t.Run("text_ping_gets_pong", func(t *testing.T) {
		ticks, pong, err := v.decodeFrame([]byte("ping"))
		require.NoError(t, err)
		assert.Empty(t, ticks)
		assert.Equal(t, []byte("pong"), pong)
	})

	t.Run("text_pong_skipped", func(t *testing.T) {
		ticks, pong, err := v.decodeFrame([]byte("pong"))
		require.NoError(t, err)
		assert.Empty(t, ticks)
		assert.Nil(t, pong)
	})

	t.Run("subscription_ack_skipped", func(t *testing.T) {
		ticks, _, err := v.decodeFrame([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"}}`))
		require.NoError(t, err)
		assert.Empty(t, ticks)
	})

	t.Run("decode_ticker_data", func(t *testing.T) {
		body := `{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","last":"64100.2"}]}`
		ticks, _, err := v.decodeFrame([]byte(body))
		require.NoError(t, err)
		require.Len(t, ticks, 1)
		assert.Equal(t, "BTC/USDT:USDT", ticks[0].symbol)
		assert.Equal(t, 64100.2, ticks[0].price)
	})

	t.Run("candles_reversed_to_oldest_first", func(t *testing.T) {
		body := `{"data":[
			["1700000120000","102","103","101","102.5","10"],
			["1700000060000","101","102","100","101.5","11"],
			["1700000000000","100","101","99","100.5","12"]
		]}`
		candles, err := v.parseOHLCV([]byte(body))
		require.NoError(t, err)
		require.Len(t, candles, 3)
		assert.Equal(t, int64(1700000000000), candles[0].Timestamp)
		assert.Equal(t, int64(1700000120000), candles[2].Timestamp)
	})

	t.Run("ohlcv_url_anchors_after_window", func(t *testing.T) {
		url := v.ohlcvURL("BTC/USDT:USDT", "1m", 1_700_000_000_000, 1)
		assert.Contains(t, url, "instId=BTC-USDT-SWAP")
		assert.Contains(t, url, "bar=1m")
		assert.Contains(t, url, "after=1700000060000")
	})

	t.Run("parse_markets", func(t *testing.T) {
		body := `{"data":[{"instId":"BTC-USDT-SWAP","state":"live","settleCcy":"USDT","ctType":"linear"}]}`
		markets, err := v.parseMarkets([]byte(body))
		require.NoError(t, err)
		require.Len(t, markets, 1)
		assert.Equal(t, "BTC/USDT:USDT", markets[0].Symbol)
		assert.Equal(t, "USDT", markets[0].Settle)
		assert.True(t, markets[0].Active)
	})
}

func TestBybitVariant(t *testing.T) {
	v := bybitVariant{}

	t.Run("subscribe_frame", func(t *testing.T) {
		frames := v.subscribeFrames([]string{"BTC/USDT:USDT", "ETH/USDT:USDT"})
		require.Len(t, frames, 1)
		assert.JSONEq(t, `{"op":"subscribe","args":["tickers.BTCUSDT","tickers.ETHUSDT"]}`, string(frames[0]))
	})

	t.Run("pong_frame_skipped", func(t *testing.T) {
		ticks, _, err := v.decodeFrame([]byte(`{"op":"pong","success":true}`))
		require.NoError(t, err)
		assert.Empty(t, ticks)
	})

	t.Run("decode_snapshot", func(t *testing.T) {
		body := `{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"symbol":"BTCUSDT","lastPrice":"63999.9"}}`
		ticks, _, err := v.decodeFrame([]byte(body))
		require.NoError(t, err)
		require.Len(t, ticks, 1)
		assert.Equal(t, "BTC/USDT:USDT", ticks[0].symbol)
		assert.Equal(t, 63999.9, ticks[0].price)
	})

	t.Run("delta_without_price_skipped", func(t *testing.T) {
		body := `{"topic":"tickers.BTCUSDT","type":"delta","data":{"symbol":"BTCUSDT","openInterest":"1"}}`
		ticks, _, err := v.decodeFrame([]byte(body))
		require.NoError(t, err)
		assert.Empty(t, ticks)
	})

	t.Run("interval_codes", func(t *testing.T) {
		assert.Equal(t, "1", bybitInterval("1m"))
		assert.Equal(t, "15", bybitInterval("15m"))
		assert.Equal(t, "60", bybitInterval("1h"))
		assert.Equal(t, "D", bybitInterval("1d"))
	})

	t.Run("kline_rows_reversed", func(t *testing.T) {
		body := `{"result":{"list":[
			["1700000060000","101","102","100","101.5","11","1"],
			["1700000000000","100","101","99","100.5","12","1"]
		]}}`
		candles, err := v.parseOHLCV([]byte(body))
		require.NoError(t, err)
		require.Len(t, candles, 2)
		assert.Equal(t, int64(1700000000000), candles[0].Timestamp)
	})

	t.Run("parse_markets", func(t *testing.T) {
		body := `{"result":{"list":[{"symbol":"BTCUSDT","contractType":"LinearPerpetual","status":"Trading","baseCoin":"BTC","quoteCoin":"USDT","settleCoin":"USDT"}]}}`
		markets, err := v.parseMarkets([]byte(body))
		require.NoError(t, err)
		require.Len(t, markets, 1)
		assert.Equal(t, "swap", markets[0].Type)
		assert.True(t, markets[0].Active)
	})
}

func TestTimeframeMs(t *testing.T) {
	assert.Equal(t, int64(60_000), timeframeMs("1m"))
	assert.Equal(t, int64(300_000), timeframeMs("5m"))
	assert.Equal(t, int64(3_600_000), timeframeMs("1h"))
	assert.Equal(t, int64(86_400_000), timeframeMs("1d"))
	assert.Equal(t, int64(60_000), timeframeMs("junk"))
}

func TestRESTBaseOverride(t *testing.T) {
	for _, name := range []string{Binance, OKX, Bybit} {
		t.Run(name, func(t *testing.T) {
			v, err := variantFor(name)
			require.NoError(t, err)
			v = v.withRESTBase("http://127.0.0.1:9")
			assert.True(t, strings.HasPrefix(v.tickerURL("BTC/USDT:USDT"), "http://127.0.0.1:9/"))
			assert.True(t, strings.HasPrefix(v.marketsURL(), "http://127.0.0.1:9/"))
		})
	}
}
