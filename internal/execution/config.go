package execution

import "time"

type Config struct {
	Venue        string
	DefaultStyle Style

	MakerFeeBps float64
	TakerFeeBps float64

	// SliceCeiling is the largest quote notional sent as one order; larger
	// orders are sliced. Zero disables slicing.
	SliceCeiling    float64
	TWAPSlices      int
	TWAPMinDelay    time.Duration
	TWAPMaxDelay    time.Duration
	TWAPDriftBps    float64
	TWAPFilledRatio float64

	PostOnlyTimeout     time.Duration
	PostOnlyMinQueue    float64
	PostOnlyBaseFillP   float64
	PostOnlyVolFillK    float64
	PostOnlyFallbackIOC bool

	IOCSlippageBps    float64
	MarketSlippageBps float64

	SpikeWindow     time.Duration
	SpikeSigma      float64
	SpikeMinSamples int
	SpikeDelay      time.Duration

	DataRetryDelay time.Duration
	HistorySize    int
}

func DefaultConfig() Config {
	return Config{
		Venue:               "sim",
		DefaultStyle:        StylePostOnly,
		MakerFeeBps:         2,
		TakerFeeBps:         5,
		SliceCeiling:        2_000,
		TWAPSlices:          10,
		TWAPMinDelay:        2 * time.Second,
		TWAPMaxDelay:        8 * time.Second,
		TWAPDriftBps:        50,
		TWAPFilledRatio:     0.95,
		PostOnlyTimeout:     5 * time.Second,
		PostOnlyMinQueue:    0.01,
		PostOnlyBaseFillP:   0.55,
		PostOnlyVolFillK:    150,
		PostOnlyFallbackIOC: true,
		IOCSlippageBps:      2,
		MarketSlippageBps:   8,
		SpikeWindow:         60 * time.Second,
		SpikeSigma:          3,
		SpikeMinSamples:     10,
		SpikeDelay:          500 * time.Millisecond,
		DataRetryDelay:      250 * time.Millisecond,
		HistorySize:         2000,
	}
}

// withDefaults fills zero fields from DefaultConfig. Booleans are taken as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Venue == "" {
		c.Venue = d.Venue
	}
	if _, ok := ParseStyle(string(c.DefaultStyle)); !ok || c.DefaultStyle == StyleTWAP {
		c.DefaultStyle = d.DefaultStyle
	}
	if c.MakerFeeBps < 0 {
		c.MakerFeeBps = 0
	}
	if c.TakerFeeBps < 0 {
		c.TakerFeeBps = 0
	}
	if c.SliceCeiling < 0 {
		c.SliceCeiling = 0
	}
	if c.TWAPSlices <= 1 {
		c.TWAPSlices = d.TWAPSlices
	}
	if c.TWAPMinDelay < 0 {
		c.TWAPMinDelay = 0
	}
	if c.TWAPMaxDelay < c.TWAPMinDelay {
		c.TWAPMaxDelay = c.TWAPMinDelay
	}
	if c.TWAPDriftBps <= 0 {
		c.TWAPDriftBps = d.TWAPDriftBps
	}
	if c.TWAPFilledRatio <= 0 || c.TWAPFilledRatio > 1 {
		c.TWAPFilledRatio = d.TWAPFilledRatio
	}
	if c.PostOnlyTimeout <= 0 {
		c.PostOnlyTimeout = d.PostOnlyTimeout
	}
	if c.PostOnlyMinQueue < 0 {
		c.PostOnlyMinQueue = 0
	}
	if c.PostOnlyBaseFillP <= 0 {
		c.PostOnlyBaseFillP = d.PostOnlyBaseFillP
	}
	if c.PostOnlyVolFillK < 0 {
		c.PostOnlyVolFillK = 0
	}
	if c.IOCSlippageBps < 0 {
		c.IOCSlippageBps = 0
	}
	if c.MarketSlippageBps <= 0 {
		c.MarketSlippageBps = d.MarketSlippageBps
	}
	if c.SpikeWindow <= 0 {
		c.SpikeWindow = d.SpikeWindow
	}
	if c.SpikeSigma <= 0 {
		c.SpikeSigma = d.SpikeSigma
	}
	if c.SpikeMinSamples <= 2 {
		c.SpikeMinSamples = d.SpikeMinSamples
	}
	if c.SpikeDelay < 0 {
		c.SpikeDelay = 0
	}
	if c.DataRetryDelay < 0 {
		c.DataRetryDelay = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}
