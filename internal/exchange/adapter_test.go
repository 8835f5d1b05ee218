package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pricesentry/internal/net/circuit"
	"github.com/sawpanic/pricesentry/internal/pricecache"
)

// tickerServer is a test websocket endpoint that pushes the given frames
// to every client and then holds the connection open.
func tickerServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAdapterStartAndStream(t *testing.T) {
	srv := tickerServer(t, `{"e":"24hrTicker","s":"BTCUSDT","c":"64000.5"}`)

	ad, err := New(Binance, Deps{WSURL: wsAddr(srv)})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ad.Start(ctx, []string{"BTC"}))
	assert.True(t, ad.IsConnected())

	t.Run("start_is_idempotent_while_connected", func(t *testing.T) {
		require.NoError(t, ad.Start(ctx, []string{"BTC"}))
	})

	t.Run("stream_feeds_current", func(t *testing.T) {
		require.Eventually(t, func() bool {
			prices := ad.Current(ctx, []string{"BTC"})
			return prices["BTC/USDT:USDT"] == 64000.5
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("stream_feeds_history", func(t *testing.T) {
		impl := ad.(*adapter)
		require.Eventually(t, func() bool {
			return impl.Ring().Len("BTC/USDT:USDT") > 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("close_joins_worker", func(t *testing.T) {
		require.NoError(t, ad.Close())
		assert.False(t, ad.IsConnected())
		assert.Equal(t, StateDisconnected, ad.(*adapter).State())
		// Closing an already closed adapter is a no-op.
		require.NoError(t, ad.Close())
	})
}

func TestAdapterDetectsLostStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	ad, err := New(Binance, Deps{WSURL: wsAddr(srv)})
	require.NoError(t, err)
	require.NoError(t, ad.Start(context.Background(), []string{"BTC"}))
	defer ad.Close()

	require.Eventually(t, func() bool {
		return !ad.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdapterStartValidation(t *testing.T) {
	t.Run("unknown_exchange", func(t *testing.T) {
		_, err := New("kraken", Deps{})
		require.Error(t, err)
		var ae *AdapterError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, CategoryConfiguration, ae.Category)
	})

	t.Run("no_symbols", func(t *testing.T) {
		ad, err := New(Binance, Deps{})
		require.NoError(t, err)
		err = ad.Start(context.Background(), nil)
		require.ErrorIs(t, err, ErrNoSymbols)
	})
}

func TestAdapterStartRetryAndBreaker(t *testing.T) {
	// Plain HTTP endpoint: every websocket handshake against it fails.
	var dials atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "not a websocket endpoint", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	breakers := circuit.NewRegistry()
	ad, err := New(Binance, Deps{Breakers: breakers, WSURL: wsAddr(srv)})
	require.NoError(t, err)

	var slept []time.Duration
	ad.(*adapter).sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	err = ad.Start(context.Background(), []string{"BTC"})
	require.Error(t, err)
	assert.False(t, ad.IsConnected())

	t.Run("three_dials_with_delay_between", func(t *testing.T) {
		assert.Equal(t, int64(MaxStartRetries), dials.Load())
		assert.Equal(t, []time.Duration{startRetryDelay, startRetryDelay}, slept)
	})

	t.Run("whole_invocation_is_one_breaker_event", func(t *testing.T) {
		stats := breakers.Stats()[circuit.BreakerStart]
		assert.Equal(t, uint32(1), stats.TotalFailures)
		assert.Equal(t, "closed", stats.State)
	})

	t.Run("open_breaker_fails_fast", func(t *testing.T) {
		// ws_start opens after 5 consecutive failed invocations.
		for i := 0; i < 4; i++ {
			require.Error(t, ad.Start(context.Background(), []string{"BTC"}))
		}
		assert.Equal(t, "open", breakers.Stats()[circuit.BreakerStart].State)

		before := dials.Load()
		err := ad.Start(context.Background(), []string{"BTC"})
		require.Error(t, err)
		assert.True(t, circuit.IsOpen(err))
		assert.Equal(t, before, dials.Load())
		assert.False(t, ad.IsConnected())
	})
}

func TestCurrentRESTFallback(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/fapi/v1/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"63500.25"}`))
	}))
	t.Cleanup(srv.Close)

	cache := pricecache.New()
	t.Cleanup(cache.Close)
	ad, err := New(Binance, Deps{Cache: cache, RESTURL: srv.URL})
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("disconnected_adapter_fetches_over_rest", func(t *testing.T) {
		prices := ad.Current(ctx, []string{"BTC"})
		require.Equal(t, map[string]float64{"BTC/USDT:USDT": 63500.25}, prices)
		assert.Equal(t, int64(1), hits.Load())
	})

	t.Run("second_read_is_served_from_cache", func(t *testing.T) {
		prices := ad.Current(ctx, []string{"BTC/USDT:USDT"})
		require.Equal(t, map[string]float64{"BTC/USDT:USDT": 63500.25}, prices)
		assert.Equal(t, int64(1), hits.Load())
	})

	t.Run("unresolvable_symbols_are_absent", func(t *testing.T) {
		bad, err := New(Binance, Deps{RESTURL: "http://127.0.0.1:1"})
		require.NoError(t, err)
		bad.(*adapter).rest.sleep = func(context.Context, time.Duration) error { return nil }
		prices := bad.Current(ctx, []string{"ETH"})
		assert.Empty(t, prices)
	})
}

func TestHistorical(t *testing.T) {
	t.Run("fresh_ring_point_wins_while_connected", func(t *testing.T) {
		ad, err := New(Binance, Deps{})
		require.NoError(t, err)
		impl := ad.(*adapter)
		impl.ring.Record("BTC/USDT:USDT", 64000)
		impl.setState(StateConnected)

		prices := ad.Historical(context.Background(), []string{"BTC"}, 1)
		require.Equal(t, map[string]float64{"BTC/USDT:USDT": 64000}, prices)
	})

	t.Run("rest_candle_backfills_when_ring_is_cold", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
			assert.Equal(t, "1m", r.URL.Query().Get("interval"))
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			w.Write([]byte(`[[1700000000000,"100.0","110.0","90.0","105.0","1.5"]]`))
		}))
		t.Cleanup(srv.Close)

		ad, err := New(Binance, Deps{RESTURL: srv.URL})
		require.NoError(t, err)

		prices := ad.Historical(context.Background(), []string{"BTC"}, 5)
		require.Equal(t, map[string]float64{"BTC/USDT:USDT": 105.0}, prices)
	})
}

func TestCheckAndReconnect(t *testing.T) {
	t.Run("connected_adapter_is_left_alone", func(t *testing.T) {
		srv := tickerServer(t)
		ad, err := New(Binance, Deps{WSURL: wsAddr(srv)})
		require.NoError(t, err)
		require.NoError(t, ad.Start(context.Background(), []string{"BTC"}))
		defer ad.Close()
		assert.True(t, ad.CheckAndReconnect(context.Background()))
	})

	t.Run("no_known_symbols_skips_dial", func(t *testing.T) {
		ad, err := New(Binance, Deps{})
		require.NoError(t, err)
		assert.False(t, ad.CheckAndReconnect(context.Background()))
	})

	t.Run("redials_with_seen_symbols", func(t *testing.T) {
		srv := tickerServer(t)
		ad, err := New(Binance, Deps{WSURL: wsAddr(srv)})
		require.NoError(t, err)
		impl := ad.(*adapter)
		impl.record(tick{symbol: "BTC/USDT:USDT", price: 64000})

		assert.False(t, ad.IsConnected())
		assert.True(t, ad.CheckAndReconnect(context.Background()))
		assert.True(t, ad.IsConnected())
		require.NoError(t, ad.Close())
	})
}

func TestMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","marginAsset":"USDT","contractType":"PERPETUAL"}]}`))
	}))
	t.Cleanup(srv.Close)

	ad, err := New(Binance, Deps{RESTURL: srv.URL})
	require.NoError(t, err)

	markets, err := ad.Markets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "BTC/USDT:USDT", markets[0].Symbol)
}

func TestWrapErrCategories(t *testing.T) {
	t.Run("existing_adapter_error_passes_through", func(t *testing.T) {
		orig := &AdapterError{Exchange: Binance, Category: CategoryAPI, Err: errors.New("boom")}
		assert.Same(t, orig, wrapErr(Bybit, orig).(*AdapterError))
	})

	t.Run("deadline_is_network", func(t *testing.T) {
		err := wrapErr(Binance, context.DeadlineExceeded)
		assert.True(t, IsNetwork(err))
	})

	t.Run("no_symbols_is_configuration", func(t *testing.T) {
		var ae *AdapterError
		require.ErrorAs(t, wrapErr(Binance, ErrNoSymbols), &ae)
		assert.Equal(t, CategoryConfiguration, ae.Category)
	})

	t.Run("nil_stays_nil", func(t *testing.T) {
		assert.NoError(t, wrapErr(Binance, nil))
	})
}
