package exposure

import "context"

// Score combines the advisory, the source breakdown and the risk category
// for one location.
type Score struct {
	Advice  HealthAdvice    `json:"advice"`
	Sources SourceBreakdown `json:"sources"`
	Risk    RiskCategory    `json:"riskCategory"`
}

// RiskForLevel maps an advisory band to a risk category for a single
// location. Route scores use Categorize on the summed exposure instead.
func RiskForLevel(l Level) RiskCategory {
	switch l {
	case LevelGood, LevelSatisfactory:
		return RiskLow
	case LevelModerate, LevelPoor:
		return RiskModerate
	default:
		return RiskHigh
	}
}

// Assess scores in.AQI with the given attributor. Attribution errors are
// absorbed by falling back to HeuristicAttributor.
func Assess(ctx context.Context, a Attributor, in AttributionInput) Score {
	if a == nil {
		a = HeuristicAttributor{}
	}
	sources, err := a.Attribute(ctx, in)
	if err != nil {
		sources, _ = HeuristicAttributor{}.Attribute(ctx, in)
	}
	advice := Advise(in.AQI)
	return Score{
		Advice:  advice,
		Sources: sources,
		Risk:    RiskForLevel(advice.Level),
	}
}
