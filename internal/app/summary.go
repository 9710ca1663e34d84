package app

import (
	"fmt"
	"sort"
	"strings"

	brcfg "canarydesk/internal/config"
	"canarydesk/internal/pkg/symbol"
)

type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Provider   string
	AutoStart  string
	Store      string
	Tape       string
	Replay     string
	Notifiers  []string
	Ramp       []string
	KillFloor  float64
	Strategies []StrategySummary
}

type StrategySummary struct {
	Name    string
	Kind    string
	Symbols []string
	Capital float64
	Style   string
}

func newStartupSummary(cfg *brcfg.Config, marketReplay bool) *StartupSummary {
	s := &StartupSummary{
		Env:       cfg.App.Env,
		HTTPAddr:  cfg.App.HTTPAddr,
		Provider:  cfg.Market.Provider,
		AutoStart: cfg.App.AutoStart,
		Store:     cfg.Store.Path,
		Tape:      cfg.Store.TapePath,
		KillFloor: cfg.Canary.KillDrawdown,
		Notifiers: []string{"log"},
	}
	switch {
	case !cfg.Runner.Replay.Enabled:
		s.Replay = "disabled"
	case marketReplay:
		s.Replay = fmt.Sprintf("market klines %s x%d", cfg.Runner.Replay.KlineInterval, cfg.Runner.Replay.KlineLimit)
	default:
		s.Replay = "price tape"
	}
	if cfg.Notify.Telegram.Enabled {
		s.Notifiers = append(s.Notifiers, "telegram")
	}
	for _, st := range cfg.Canary.Ramp {
		s.Ramp = append(s.Ramp, fmt.Sprintf("day %d: %.1f%%", st.FromDay, st.Pct))
	}
	for _, sc := range cfg.Runner.Strategies {
		syms := make([]string, 0, len(sc.Symbols))
		for _, raw := range sc.Symbols {
			syms = append(syms, symbol.Normalize(raw))
		}
		sort.Strings(syms)
		s.Strategies = append(s.Strategies, StrategySummary{
			Name:    sc.Name,
			Kind:    sc.Kind,
			Symbols: syms,
			Capital: sc.Capital,
			Style:   sc.Style,
		})
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[APP]")
	fmt.Printf("  env:        %s\n", s.Env)
	fmt.Printf("  http:       %s\n", s.HTTPAddr)
	fmt.Printf("  auto start: %s\n", orDash(s.AutoStart))
	fmt.Printf("  notifiers:  %s\n", formatList(s.Notifiers))
	fmt.Println()

	fmt.Println("[DATA]")
	fmt.Printf("  market:     %s\n", s.Provider)
	fmt.Printf("  store:      %s\n", s.Store)
	fmt.Printf("  tape:       %s\n", s.Tape)
	fmt.Printf("  replay:     %s\n", s.Replay)
	fmt.Println()

	fmt.Println("[CANARY]")
	if len(s.Ramp) == 0 {
		fmt.Println("  ramp:       default")
	} else {
		fmt.Printf("  ramp:       %s\n", formatList(s.Ramp))
	}
	if s.KillFloor > 0 {
		fmt.Printf("  kill floor: %.1f%% drawdown\n", s.KillFloor*100)
	} else {
		fmt.Println("  kill floor: default")
	}
	fmt.Println()

	fmt.Println("[STRATEGIES]")
	if len(s.Strategies) == 0 {
		fmt.Println("  (none)")
	}
	for _, st := range s.Strategies {
		fmt.Printf("  > %s (%s) capital=%.2f style=%s\n", st.Name, st.Kind, st.Capital, orDash(st.Style))
		fmt.Printf("    symbols: %s\n", formatList(st.Symbols))
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
