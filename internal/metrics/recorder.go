package metrics

import (
	"context"
	"fmt"
	"time"

	"cognitivecore/internal/model"
)

// Recorder is the C12 facade: append-only outcome recording plus
// windowed IQ/Empathy aggregation.
type Recorder struct {
	backend OutcomeBackend
}

// New constructs a Recorder over backend.
func New(backend OutcomeBackend) *Recorder {
	return &Recorder{backend: backend}
}

// Record appends an outcome. Append-only: never updates or deletes.
func (r *Recorder) Record(ctx context.Context, outcome model.InteractionOutcome) error {
	if err := r.backend.Insert(ctx, outcome); err != nil {
		return fmt.Errorf("metrics: record outcome: %w", err)
	}
	return nil
}

// DailyScores computes IQ/Empathy over the last 24 hours. The correction
// rate of the 24 hours before that (the last 48 hours minus today's
// outcomes) gives the friction-trend term something to compare against.
func (r *Recorder) DailyScores(ctx context.Context) (Scores, error) {
	now := time.Now().UTC()
	today, err := r.backend.Since(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return Scores{}, fmt.Errorf("metrics: today's outcomes: %w", err)
	}
	prior, err := r.backend.Since(ctx, now.Add(-48*time.Hour))
	if err != nil {
		return Scores{}, fmt.Errorf("metrics: prior outcomes: %w", err)
	}

	priorOnly := excludeOverlap(prior, today)
	priorFriction := correctionRate(priorOnly)

	return Aggregate(today, priorFriction), nil
}

// ScoresAsOf computes IQ/Empathy for the 24-hour window ending daysAgo
// days before now, for the Self-Reflection Builder's "N days ago"
// comparison.
func (r *Recorder) ScoresAsOf(ctx context.Context, daysAgo int) (Scores, error) {
	end := time.Now().UTC().Add(-time.Duration(daysAgo) * 24 * time.Hour)
	window, err := r.backend.Since(ctx, end.Add(-24*time.Hour))
	if err != nil {
		return Scores{}, fmt.Errorf("metrics: scores as of: %w", err)
	}
	var inWindow []model.InteractionOutcome
	for _, o := range window {
		if o.RecordedAt.Before(end) {
			inWindow = append(inWindow, o)
		}
	}
	return Aggregate(inWindow, correctionRate(inWindow)), nil
}

func excludeOverlap(all, overlap []model.InteractionOutcome) []model.InteractionOutcome {
	seen := make(map[int64]struct{}, len(overlap))
	for _, o := range overlap {
		seen[o.MessageID] = struct{}{}
	}
	var out []model.InteractionOutcome
	for _, o := range all {
		if _, ok := seen[o.MessageID]; !ok {
			out = append(out, o)
		}
	}
	return out
}

func correctionRate(outcomes []model.InteractionOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	n := 0
	for _, o := range outcomes {
		if o.WasCorrection {
			n++
		}
	}
	return float64(n) / float64(len(outcomes))
}
