package locale

// Similarity returns the Ratcliff-Obershelp similarity of a and b after
// folding: twice the number of matching characters divided by the total
// length. Identical strings score 1, disjoint strings 0.
func Similarity(a, b string) float64 {
	ra, rb := []rune(Fold(a)), []rune(Fold(b))
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(ra, rb)) / float64(total)
}

// matchingChars finds the longest common substring, then recurses on the
// unmatched pieces to its left and right.
func matchingChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommon(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

func longestCommon(a, b []rune) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai, bi = i-size, j-size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}

// Match is the best fuzzy candidate for a term.
type Match struct {
	Candidate
	Score float64
}

// BestMatch returns the highest-scoring candidate at or above threshold.
func (d *Dictionary) BestMatch(term string, threshold float64) (Match, bool) {
	var best Match
	for _, c := range d.Candidates() {
		score := Similarity(term, c.Text)
		if score > best.Score {
			best = Match{Candidate: c, Score: score}
		}
	}
	if best.Entry == nil || best.Score < threshold {
		return Match{}, false
	}
	return best, true
}
