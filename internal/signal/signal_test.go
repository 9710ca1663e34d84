package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMACross_WarmsUpThenFollowsTrend(t *testing.T) {
	src, err := NewEMACross(3, 6, 0, 20)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, ok, err := src.Signal(ctx, "BTC/USDT", 100)
		require.NoError(t, err)
		assert.False(t, ok, "bar %d should still be warming up", i)
	}

	var sig Signal
	for i := 1; i <= 10; i++ {
		var ok bool
		sig, ok, err = src.Signal(ctx, "BTC/USDT", 100+float64(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 1, sig.Direction)
	assert.Greater(t, sig.Strength, 0.0)
	assert.LessOrEqual(t, sig.Strength, 1.0)
	assert.Greater(t, sig.Confidence, 0.5)

	for i := 1; i <= 20; i++ {
		sig, _, err = src.Signal(ctx, "BTC/USDT", 110-float64(i))
		require.NoError(t, err)
	}
	assert.Equal(t, -1, sig.Direction)
}

func TestEMACross_Validation(t *testing.T) {
	_, err := NewEMACross(10, 5, 0, 0)
	assert.Error(t, err)

	src, err := NewEMACross(0, 0, 0, 0)
	require.NoError(t, err)
	_, _, err = src.Signal(context.Background(), "X", 0)
	assert.Error(t, err)
}

func TestEMACross_HistoryBounded(t *testing.T) {
	src, err := NewEMACross(2, 4, 12, 10)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, _, _ = src.Signal(context.Background(), "X", 100+float64(i%5))
	}
	assert.Len(t, src.prices, 12)
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory("static", Params{Direction: 1, Strength: 0.8, Confidence: 2})
	require.NoError(t, err)
	src, err := f()
	require.NoError(t, err)
	sig, ok, err := src.Signal(context.Background(), "BTC/USDT", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Signal{Direction: 1, Strength: 0.8, Confidence: 1}, sig)

	f, err = NewFactory("ema_cross", Params{Fast: 5, Slow: 10})
	require.NoError(t, err)
	a, _ := f()
	b, _ := f()
	assert.NotSame(t, a, b)

	_, err = NewFactory("astrology", Params{})
	assert.Error(t, err)
	_, err = NewFactory("static", Params{Direction: 2})
	assert.Error(t, err)
}

func TestFileWeights_LoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  ema:BTC/USDT: 0.4\n  ema:ETH/USDT: 0.6\n"), 0o644))

	fw, err := NewFileWeights(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ema:BTC/USDT": 0.4, "ema:ETH/USDT": 0.6}, fw.Weights())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fw.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("weights:\n  ema:BTC/USDT: 1.0\n"), 0o644)
		return fw.Weights()["ema:BTC/USDT"] == 1.0
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestFileWeights_RejectsNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  a: -1\n"), 0o644))
	_, err := NewFileWeights(path)
	assert.Error(t, err)
}
