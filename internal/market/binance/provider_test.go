package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canarydesk/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/depth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lastUpdateId":1,"E":1700000000000,"T":1700000000000,
			"bids":[["49990.0","1.5"],["49980.0","2.0"]],
			"asks":[["50010.0","0.8"],["50020.0","3.0"]]}`))
	})
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			[1600000000000,"100","101","99","100","10",1600000059999,"1000",5,"5","500","0"],
			[1600000060000,"100","102","99","101","10",1600000119999,"1000",5,"5","500","0"],
			[1600000120000,"101","103","100","99","10",1600000179999,"1000",5,"5","500","0"],
			[1600000180000,"99","101","98","100","10",1600000239999,"1000",5,"5","500","0"]
		]`))
	})
	return httptest.NewServer(mux)
}

func TestProvider_GetSnapshot(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := New(Config{RESTBaseURL: srv.URL, HTTPTimeout: 2 * time.Second})
	require.NoError(t, err)

	snap, err := p.GetSnapshot(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", snap.Symbol)
	assert.Equal(t, 49990.0, snap.Bid)
	assert.Equal(t, 50010.0, snap.Ask)
	assert.Equal(t, 50000.0, snap.Mid)
	assert.Equal(t, 1.5, snap.BidDepth)
	assert.Equal(t, 0.8, snap.AskDepth)
	assert.InDelta(t, 4.0, snap.SpreadBps, 1e-9)
	assert.Greater(t, snap.Volatility, 0.0)
	assert.Equal(t, time.UnixMilli(1700000000000), snap.Timestamp)
}

func TestProvider_FetchHistory(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	candles, err := p.FetchHistory(context.Background(), "BTC/USDT", "1m", 4)
	require.NoError(t, err)
	require.Len(t, candles, 4)
	assert.Equal(t, 101.0, candles[1].Close)
}

func TestDropOpenKline(t *testing.T) {
	open := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	klines := []market.Candle{
		{OpenTime: open.Add(-time.Minute).UnixMilli()},
		{OpenTime: open.UnixMilli(), CloseTime: open.Add(time.Minute).UnixMilli() - 1},
	}

	assert.Len(t, dropOpenKline(klines, time.Minute, open.Add(30*time.Second)), 1)
	assert.Len(t, dropOpenKline(klines, time.Minute, open.Add(time.Minute+5*time.Second)), 1, "inside the grace period")
	assert.Len(t, dropOpenKline(klines, time.Minute, open.Add(time.Minute+klineGrace)), 2)
	assert.Empty(t, dropOpenKline(nil, time.Minute, open))
}

func TestRealizedVol(t *testing.T) {
	flat := []market.Candle{{Close: 1}, {Close: 1}, {Close: 1}}
	assert.Equal(t, 0.0, realizedVol(flat))
	assert.Equal(t, 0.0, realizedVol(nil))
}
