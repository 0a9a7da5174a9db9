// Package reflection implements the Self-Reflection Builder (C8): a
// fixed-structure, metric-grounded system-prompt prefix assembled in
// parallel from the Metrics Recorder, Error Memory, and success-pattern
// history, in the same errgroup-fan-out style as the Context Primer.
package reflection

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"cognitivecore/internal/metrics"
	"cognitivecore/internal/model"
)

// compareDaysAgo is the "N days ago" comparison point for today's scores.
const compareDaysAgo = 7

// ScoreSource supplies today's and historical IQ/Empathy aggregates. The
// Metrics Recorder satisfies this.
type ScoreSource interface {
	DailyScores(ctx context.Context) (metrics.Scores, error)
	ScoresAsOf(ctx context.Context, daysAgo int) (metrics.Scores, error)
}

// MistakeSource supplies the most recent corrections. Error Memory's
// facade satisfies this directly.
type MistakeSource interface {
	RecentCorrections(ctx context.Context, limit int) ([]model.CorrectionEntry, error)
}

// PatternSource supplies short descriptions of recently successful
// approaches, independent of any one category.
type PatternSource interface {
	TopSuccessPatterns(ctx context.Context, limit int) ([]string, error)
}

// StreakSource reports the current length of a consecutive positive-outcome
// streak (0 if the most recent outcome was not positive).
type StreakSource interface {
	PositiveStreak(ctx context.Context) (int, error)
}

// Builder is the C8 facade.
type Builder struct {
	scores   ScoreSource
	mistakes MistakeSource
	patterns PatternSource
	streak   StreakSource
}

// New constructs a Builder from its four independent data sources.
func New(scores ScoreSource, mistakes MistakeSource, patterns PatternSource, streak StreakSource) *Builder {
	return &Builder{scores: scores, mistakes: mistakes, patterns: patterns, streak: streak}
}

type reflectionData struct {
	today      metrics.Scores
	historical metrics.Scores
	mistakes   []model.CorrectionEntry
	patterns   []string
	streak     int
	haveToday  bool
	haveHist   bool
	haveStreak bool
}

// BuildPrompt gathers today's IQ/Empathy scores, scores from
// compareDaysAgo days ago, the last 3 corrections, the top 2 success
// patterns, and the current positive streak in parallel, then assembles a
// fixed-structure prefix. Any sub-query that returns no data omits its
// sub-block; if everything is empty, the result is the empty string.
// Designed to complete well under 50ms since every sub-query hits only
// already-warm in-process state.
func (b *Builder) BuildPrompt(ctx context.Context, includeMotivation bool) (string, error) {
	data := reflectionData{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := b.scores.DailyScores(gctx)
		if err != nil {
			return fmt.Errorf("reflection: daily scores: %w", err)
		}
		data.today = s
		data.haveToday = s.Count > 0
		return nil
	})
	g.Go(func() error {
		s, err := b.scores.ScoresAsOf(gctx, compareDaysAgo)
		if err != nil {
			return fmt.Errorf("reflection: historical scores: %w", err)
		}
		data.historical = s
		data.haveHist = s.Count > 0
		return nil
	})
	g.Go(func() error {
		m, err := b.mistakes.RecentCorrections(gctx, 3)
		if err != nil {
			return fmt.Errorf("reflection: recent corrections: %w", err)
		}
		data.mistakes = m
		return nil
	})
	g.Go(func() error {
		p, err := b.patterns.TopSuccessPatterns(gctx, 2)
		if err != nil {
			return fmt.Errorf("reflection: success patterns: %w", err)
		}
		data.patterns = p
		return nil
	})
	g.Go(func() error {
		n, err := b.streak.PositiveStreak(gctx)
		if err != nil {
			return fmt.Errorf("reflection: positive streak: %w", err)
		}
		data.streak = n
		data.haveStreak = n > 0
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", err
	}

	return assemble(data, includeMotivation), nil
}

func assemble(d reflectionData, includeMotivation bool) string {
	var blocks []string

	if d.haveToday {
		line := fmt.Sprintf("Today's performance: IQ %.2f, Empathy %.2f (n=%d).", d.today.IQ, d.today.Empathy, d.today.Count)
		if d.haveHist {
			line += fmt.Sprintf(" %s days ago: IQ %.2f, Empathy %.2f.", dayLabel(compareDaysAgo), d.historical.IQ, d.historical.Empathy)
		}
		blocks = append(blocks, line)
	} else if d.haveHist {
		blocks = append(blocks, fmt.Sprintf("%s days ago: IQ %.2f, Empathy %.2f.", dayLabel(compareDaysAgo), d.historical.IQ, d.historical.Empathy))
	}

	if len(d.mistakes) > 0 {
		var lines []string
		for _, m := range d.mistakes {
			lines = append(lines, fmt.Sprintf("- avoid: %q (prefer %q)", truncate(m.OriginalResponse, 120), truncate(m.UserCorrection, 120)))
		}
		blocks = append(blocks, "Past mistakes to avoid:\n"+strings.Join(lines, "\n"))
	}

	if len(d.patterns) > 0 {
		var lines []string
		for _, p := range d.patterns {
			lines = append(lines, "- "+p)
		}
		blocks = append(blocks, "Approaches that have worked well:\n"+strings.Join(lines, "\n"))
	}

	if includeMotivation {
		if note := motivationalNote(d); note != "" {
			blocks = append(blocks, note)
		}
	}

	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n")
}

// motivationalNote picks one sentence by rule from the metric trend and
// streak length. Silent (empty) when there isn't enough data to ground a
// claim, rather than emitting a generic platitude.
func motivationalNote(d reflectionData) string {
	switch {
	case d.haveStreak && d.streak >= 5:
		return fmt.Sprintf("You're on a %d-interaction positive streak — keep this up.", d.streak)
	case d.haveToday && d.haveHist && d.today.IQ > d.historical.IQ+0.05:
		return "Accuracy is trending up versus a week ago; keep grounding answers in verified context."
	case d.haveToday && d.haveHist && d.today.IQ < d.historical.IQ-0.05:
		return "Accuracy has dipped versus a week ago; lean more on primed context and double-check before answering."
	case d.haveToday:
		return "Stay grounded in the user's actual context and verify before asserting."
	default:
		return ""
	}
}

func dayLabel(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
