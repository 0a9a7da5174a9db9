package conductor

import (
	"math"
	"strings"
)

var hedgePhrases = []string{
	"i think", "i believe", "might be", "possibly", "perhaps", "not entirely sure",
	"i'm not sure", "could be wrong", "as far as i know", "it seems",
}

var positiveSentimentWords = []string{"confident", "solid", "complete", "correct", "on track", "clear"}
var negativeSentimentWords = []string{"unsure", "incomplete", "confusing", "wrong", "off track", "unclear"}

// scoreConfidence implements SPEC_FULL.md's resolved formula for Open
// Question 1: confidence = clamp01(0.7*normalize(meanLogprob) +
// 0.2*(1-hedgePenalty) + 0.1*verdictSentiment).
//
//   - normalize(meanLogprob): token logprobs are <= 0, so exp(meanLogprob)
//     maps them onto a probability-like (0,1] scale.
//   - hedgePenalty: number of distinct hedgePhrases present in
//     visibleText divided by 3, capped at 1 (three or more phrases give
//     the full penalty).
//   - verdictSentiment: +1/0/-1 by keyword match against the small
//     model's last CHECK reason, shifted to [0,1]; 0.5 when neutral.
func scoreConfidence(meanLogprob float64, visibleText string, lastReason string) float64 {
	normalized := normalizeLogprob(meanLogprob)
	hedgePenalty := hedgeFraction(visibleText)
	sentiment := verdictSentiment(lastReason)

	score := 0.7*normalized + 0.2*(1-hedgePenalty) + 0.1*sentiment
	return clamp01(score)
}

func normalizeLogprob(meanLogprob float64) float64 {
	if meanLogprob > 0 {
		meanLogprob = 0
	}
	return clamp01(math.Exp(meanLogprob))
}

func hedgeFraction(text string) float64 {
	low := strings.ToLower(text)
	hits := 0
	for _, p := range hedgePhrases {
		if strings.Contains(low, p) {
			hits++
		}
	}
	frac := float64(hits) / 3.0
	return clamp01(frac)
}

func verdictSentiment(reason string) float64 {
	low := strings.ToLower(reason)
	for _, w := range negativeSentimentWords {
		if strings.Contains(low, w) {
			return 0.0
		}
	}
	for _, w := range positiveSentimentWords {
		if strings.Contains(low, w) {
			return 1.0
		}
	}
	return 0.5
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

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
