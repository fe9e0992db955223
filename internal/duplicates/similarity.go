package duplicates

import "strings"

// WordOverlap returns 2*|A∩B| / (|A|+|B|) over the lower-cased,
// whitespace-separated word sets of a and b. Empty input yields 0.
func WordOverlap(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA)+len(wordsB) == 0 {
		return 0
	}

	shared := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(wordsA)+len(wordsB))
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

// FuzzyMatch returns a 0..1 similarity of two strings based on their
// case-insensitive Levenshtein distance relative to the longer string.
func FuzzyMatch(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	longer := max(len(ra), len(rb))
	if longer == 0 {
		return 1
	}
	return float64(longer-levenshtein(ra, rb)) / float64(longer)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// VendorCandidate is a known vendor a free-text name can be matched against.
type VendorCandidate struct {
	ID   string
	Name string
}

// DefaultVendorMatchThreshold is the minimum FuzzyMatch score MatchVendor accepts.
const DefaultVendorMatchThreshold = 0.8

// MatchVendor returns the candidate whose name is most similar to name, if
// that similarity reaches threshold. Ties keep the earlier candidate.
func MatchVendor(name string, candidates []VendorCandidate, threshold float64) (VendorCandidate, float64, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return VendorCandidate{}, 0, false
	}

	var best VendorCandidate
	bestScore := -1.0
	for _, c := range candidates {
		if score := FuzzyMatch(name, strings.TrimSpace(c.Name)); score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < threshold {
		return VendorCandidate{}, max(bestScore, 0), false
	}
	return best, bestScore, true
}
