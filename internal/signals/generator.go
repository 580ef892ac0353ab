package signals

import "github.com/rs/zerolog/log"

// Generator is the common contract for every strategy family. Generate returns
// ok=false when the history is too short to produce a signal; callers skip the
// symbol for the cycle instead of treating it as a flat signal.
type Generator interface {
	Type() SignalType
	SupportedTimeframes() []Timeframe
	Generate(symbol string, tf Timeframe, history []PricePoint) (SignalCore, bool)
}

// GenerateAll runs each generator once for the timeframe and collects the present signals
func GenerateAll(gens []Generator, symbol string, tf Timeframe, history []PricePoint) CombinedSignals {
	combined := EmptyCombined(symbol)
	for _, g := range gens {
		core, ok := g.Generate(symbol, tf, history)
		if !ok {
			log.Debug().
				Str("symbol", symbol).
				Str("type", string(g.Type())).
				Str("timeframe", string(tf)).
				Int("points", len(history)).
				Msg("Signal absent")
			continue
		}
		combined.Set(&core)
	}
	return combined
}
