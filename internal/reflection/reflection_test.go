package reflection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/metrics"
	"cognitivecore/internal/model"
)

type stubScores struct {
	today, historical metrics.Scores
}

func (s stubScores) DailyScores(ctx context.Context) (metrics.Scores, error)        { return s.today, nil }
func (s stubScores) ScoresAsOf(ctx context.Context, daysAgo int) (metrics.Scores, error) {
	return s.historical, nil
}

type stubMistakes struct{ entries []model.CorrectionEntry }

func (s stubMistakes) RecentCorrections(ctx context.Context, limit int) ([]model.CorrectionEntry, error) {
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

type stubPatterns struct{ patterns []string }

func (s stubPatterns) TopSuccessPatterns(ctx context.Context, limit int) ([]string, error) {
	if limit < len(s.patterns) {
		return s.patterns[:limit], nil
	}
	return s.patterns, nil
}

type stubStreak struct{ n int }

func (s stubStreak) PositiveStreak(ctx context.Context) (int, error) { return s.n, nil }

func TestBuildPromptEmptyWhenNoData(t *testing.T) {
	b := New(stubScores{}, stubMistakes{}, stubPatterns{}, stubStreak{})
	prompt, err := b.BuildPrompt(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, prompt)
}

func TestBuildPromptIncludesScoresWhenPresent(t *testing.T) {
	b := New(
		stubScores{today: metrics.Scores{IQ: 0.8, Empathy: 0.7, Count: 5}},
		stubMistakes{},
		stubPatterns{},
		stubStreak{},
	)
	prompt, err := b.BuildPrompt(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, prompt, "IQ 0.80")
}

func TestBuildPromptIncludesMistakesBlock(t *testing.T) {
	b := New(
		stubScores{},
		stubMistakes{entries: []model.CorrectionEntry{
			{OriginalResponse: "used tabs", UserCorrection: "use spaces"},
		}},
		stubPatterns{},
		stubStreak{},
	)
	prompt, err := b.BuildPrompt(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, prompt, "used tabs")
	assert.Contains(t, prompt, "use spaces")
}

func TestBuildPromptIncludesPatternsBlock(t *testing.T) {
	b := New(stubScores{}, stubMistakes{}, stubPatterns{patterns: []string{"ask clarifying questions first"}}, stubStreak{})
	prompt, err := b.BuildPrompt(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, prompt, "ask clarifying questions first")
}

func TestBuildPromptMotivationOnLongStreak(t *testing.T) {
	b := New(stubScores{}, stubMistakes{}, stubPatterns{}, stubStreak{n: 7})
	prompt, err := b.BuildPrompt(context.Background(), true)
	require.NoError(t, err)
	assert.Contains(t, prompt, "7-interaction positive streak")
}

func TestBuildPromptOmitsMotivationWhenNotRequested(t *testing.T) {
	b := New(stubScores{}, stubMistakes{}, stubPatterns{}, stubStreak{n: 7})
	prompt, err := b.BuildPrompt(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, prompt)
}

func TestBuildPromptTrendComparisonWhenBothWindowsPresent(t *testing.T) {
	b := New(
		stubScores{
			today:      metrics.Scores{IQ: 0.9, Empathy: 0.8, Count: 5},
			historical: metrics.Scores{IQ: 0.7, Empathy: 0.6, Count: 5},
		},
		stubMistakes{},
		stubPatterns{},
		stubStreak{},
	)
	prompt, err := b.BuildPrompt(context.Background(), true)
	require.NoError(t, err)
	assert.Contains(t, prompt, "trending up")
}
