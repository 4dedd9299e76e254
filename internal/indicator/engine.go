package indicator

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"chartcore/internal/model"
)

// Overlay types understood by the engine.
const (
	TypeSMA  = "SMA"
	TypeEMA  = "EMA"
	TypeSMMA = "SMMA"
	TypeRSI  = "RSI"
	TypeSTD  = "STD"
	TypeBB   = "BB"  // Bollinger bands
	TypeSDC  = "SDC" // standard deviation channels
	TypeVWMA = "VWMA"
	TypeVWAP = "VWAP"
)

// IndicatorConfig specifies a single overlay to compute.
type IndicatorConfig struct {
	Type       string
	Period     int
	Multiplier float64 // BB / SDC width, default 2
	Anchor     int     // VWAP anchor index
}

// Name returns the overlay name, e.g. "SMA_20", "BB_20_2", "VWAP".
func (c IndicatorConfig) Name() string {
	switch c.Type {
	case TypeVWAP:
		if c.Anchor > 0 {
			return "VWAP_" + strconv.Itoa(c.Anchor)
		}
		return "VWAP"
	case TypeBB, TypeSDC:
		return c.Type + "_" + strconv.Itoa(c.Period) + "_" + strconv.FormatFloat(c.Multiplier, 'f', -1, 64)
	default:
		return c.Type + "_" + strconv.Itoa(c.Period)
	}
}

// Overlay is one computed overlay. Single-line overlays use the "value"
// line; band overlays use "center", "upper" and "lower".
type Overlay struct {
	Name  string            `json:"name"`
	Lines map[string]Series `json:"lines"`
}

// Engine computes a fixed list of overlays over candle history.
// Stateless between calls and safe for concurrent use.
type Engine struct {
	configs []IndicatorConfig
}

// NewEngine creates an overlay engine. Every config is validated up front.
func NewEngine(configs []IndicatorConfig) (*Engine, error) {
	for _, c := range configs {
		if c.Type == TypeVWAP {
			continue
		}
		if err := checkPeriod(c.Period); err != nil {
			return nil, fmt.Errorf("overlay %s: %w", c.Name(), err)
		}
		switch c.Type {
		case TypeSMA, TypeEMA, TypeSMMA, TypeRSI, TypeSTD, TypeBB, TypeSDC, TypeVWMA:
		default:
			return nil, fmt.Errorf("%w: unknown overlay type %q", ErrInvalidParameter, c.Type)
		}
	}
	return &Engine{configs: configs}, nil
}

// Configs returns the engine's overlay configs.
func (e *Engine) Configs() []IndicatorConfig { return e.configs }

// Compute runs every configured overlay over candles, in config order.
func (e *Engine) Compute(candles []model.Candle) ([]Overlay, error) {
	closes := model.Closes(candles)
	out := make([]Overlay, 0, len(e.configs))
	for _, c := range e.configs {
		ov := Overlay{Name: c.Name(), Lines: make(map[string]Series, 3)}
		var (
			s   Series
			b   Bands
			err error
		)
		switch c.Type {
		case TypeSMA:
			s, err = SMASeries(closes, c.Period)
		case TypeEMA:
			s, err = EMASeries(closes, c.Period)
		case TypeSMMA:
			s, err = SMMASeries(closes, c.Period)
		case TypeRSI:
			s, err = RSISeries(closes, c.Period)
		case TypeSTD:
			s, err = RollingStdSeries(closes, c.Period)
		case TypeVWMA:
			s, err = VWMASeries(candles, c.Period)
		case TypeVWAP:
			s = VWAP(candles, c.Anchor)
		case TypeBB:
			b, err = Bollinger(closes, c.Period, c.Multiplier)
		case TypeSDC:
			b, err = StdDevChannels(closes, c.Period, c.Multiplier)
		}
		if err != nil {
			return nil, fmt.Errorf("overlay %s: %w", ov.Name, err)
		}
		if c.Type == TypeBB || c.Type == TypeSDC {
			ov.Lines["center"], ov.Lines["upper"], ov.Lines["lower"] = b.Center, b.Upper, b.Lower
		} else {
			ov.Lines["value"] = s
		}
		out = append(out, ov)
	}
	return out, nil
}

// ParseSpecs parses "TYPE:PERIOD[:MULT],..." into configs, e.g.
// "SMA:20,EMA:9,BB:20:2,VWMA:20,VWAP,RSI:14". For VWAP the optional
// number is the anchor index. Invalid entries are skipped with a warning;
// an empty string yields the defaults.
func ParseSpecs(s string) []IndicatorConfig {
	if strings.TrimSpace(s) == "" {
		return []IndicatorConfig{
			{Type: TypeSMA, Period: 20},
			{Type: TypeEMA, Period: 9},
			{Type: TypeEMA, Period: 21},
			{Type: TypeBB, Period: 20, Multiplier: 2},
			{Type: TypeVWAP},
		}
	}

	var configs []IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		cfg := IndicatorConfig{Type: strings.ToUpper(strings.TrimSpace(fields[0])), Multiplier: 2}

		if cfg.Type == TypeVWAP {
			if len(fields) > 1 {
				anchor, err := strconv.Atoi(strings.TrimSpace(fields[1]))
				if err != nil || anchor < 0 {
					slog.Warn("skipping invalid overlay spec", "spec", part)
					continue
				}
				cfg.Anchor = anchor
			}
			configs = append(configs, cfg)
			continue
		}

		if len(fields) < 2 {
			slog.Warn("skipping overlay spec without period", "spec", part)
			continue
		}
		period, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || period <= 0 {
			slog.Warn("skipping invalid overlay spec", "spec", part)
			continue
		}
		cfg.Period = period
		if len(fields) > 2 {
			mult, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
			if err != nil {
				slog.Warn("skipping overlay spec with bad multiplier", "spec", part)
				continue
			}
			cfg.Multiplier = mult
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		slog.Warn("no valid overlay specs parsed, using defaults")
		return ParseSpecs("")
	}
	return configs
}
