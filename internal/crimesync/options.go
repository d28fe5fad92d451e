package crimesync

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnknownOption is returned by ParseOptions for an unrecognised token.
var ErrUnknownOption = eris.New("unknown option")

// Phase names one load step of a run.
type Phase string

// Load phases in run order.
const (
	PhaseForce    Phase = "forces"
	PhaseCategory Phase = "categories"
	PhaseCrime    Phase = "crimes"
	PhaseOutcome  Phase = "outcomes"
	PhaseStop     Phase = "stops"
)

// MonthPhases are the phases run for every month, in order.
var MonthPhases = []Phase{PhaseCategory, PhaseCrime, PhaseOutcome, PhaseStop}

// Phases is the set of phases a run skips.
type Phases struct {
	disabled map[Phase]bool
}

// Enabled reports whether p runs.
func (ps Phases) Enabled(p Phase) bool {
	return !ps.disabled[p]
}

// Disabled lists the skipped phases in run order.
func (ps Phases) Disabled() []Phase {
	var out []Phase
	for _, p := range append([]Phase{PhaseForce}, MonthPhases...) {
		if ps.disabled[p] {
			out = append(out, p)
		}
	}
	return out
}

var optionTokens = map[string]Phase{
	"no-force-load":    PhaseForce,
	"no-category-load": PhaseCategory,
	"no-crime-load":    PhaseCrime,
	"no-outcome-load":  PhaseOutcome,
	"no-stop-load":     PhaseStop,
}

// ParseOptions reads phase toggles from a free-text option string such as
// "no-force-load, no-stop-load". Tokens are separated by commas or
// whitespace and matched case-insensitively. An empty string enables every
// phase.
func ParseOptions(s string) (Phases, error) {
	ps := Phases{disabled: map[Phase]bool{}}
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, tok := range tokens {
		p, ok := optionTokens[strings.ToLower(tok)]
		if !ok {
			return Phases{}, eris.Wrapf(ErrUnknownOption, "%q", tok)
		}
		ps.disabled[p] = true
	}
	return ps, nil
}
