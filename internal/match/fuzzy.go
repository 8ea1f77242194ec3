// Package match implements fuzzy text matching between transactions and
// learned pattern values.
package match

import (
	"sort"
	"strings"

	"github.com/tallyfin/tallyfin/internal/model"
)

// nonExactCap keeps every non-exact similarity strictly below an exact
// normalized match, which always scores 1.0.
const nonExactCap = 0.99

// Similarity computes a case-insensitive similarity score in [0,1] between
// two strings. It blends token overlap with normalized edit distance; exact
// matches after normalization score exactly 1.0 and substrings score above
// zero but below 1.0.
func Similarity(a, b string) float64 {
	na := model.NormalizeText(a)
	nb := model.NormalizeText(b)

	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	tokenScore := tokenOverlap(na, nb)
	editScore := editSimilarity(na, nb)
	score := 0.5*tokenScore + 0.5*editScore

	// Substring containment is strong evidence even when token sets and
	// edit distance disagree (e.g. "amazon" vs "amazon marketplace pmts").
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		shorter, longer := len(na), len(nb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		containment := 0.6 + 0.4*float64(shorter)/float64(longer)
		if containment > score {
			score = containment
		}
	}

	if score > nonExactCap {
		score = nonExactCap
	}
	if score < 0 {
		score = 0
	}
	return score
}

// MatchPatterns scores text against every candidate pattern value, discards
// scores below minConfidence, sorts descending with ties broken by input
// order, and truncates to maxResults. An empty candidate set yields a
// non-success result, not an error.
func MatchPatterns(text string, patterns []model.Pattern, minConfidence float64, maxResults int) model.MatchResult {
	result := model.MatchResult{}

	if len(patterns) == 0 {
		return result
	}

	for i := range patterns {
		p := &patterns[i]
		score := Similarity(text, p.Value)
		if score < minConfidence {
			continue
		}
		result.Matches = append(result.Matches, model.PatternMatch{Pattern: p, Score: score})
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].Score > result.Matches[j].Score
	})

	if maxResults > 0 && len(result.Matches) > maxResults {
		result.Matches = result.Matches[:maxResults]
	}

	if len(result.Matches) > 0 {
		result.Success = true
		result.BestScore = result.Matches[0].Score
	}

	return result
}

// tokenOverlap computes the Jaccard index over the token sets of two
// normalized strings.
func tokenOverlap(a, b string) float64 {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		setA[t] = true
	}

	setB := make(map[string]bool, len(tokensB))
	intersection := 0
	for _, t := range tokensB {
		if setB[t] {
			continue
		}
		setB[t] = true
		if setA[t] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// editSimilarity converts Levenshtein distance to a similarity ratio.
func editSimilarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance with a two-row dynamic program.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}
