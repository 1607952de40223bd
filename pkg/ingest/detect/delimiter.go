package detect

import (
	"math"
)

// DetectDelimiter picks the field separator whose per-line count is the
// most consistent across the sample. Tab wins ties.
func DetectDelimiter(sample []byte) byte {
	candidates := []byte{'\t', ',', ';'}
	bestDelim := byte('\t')
	bestScore := math.MaxFloat64

	for _, delim := range candidates {
		counts := countDelimiterPerLine(sample, delim)
		if len(counts) == 0 {
			continue
		}

		avg := mean(counts)
		if avg < 1 {
			continue
		}

		score := variance(counts) / avg
		if score < bestScore {
			bestScore = score
			bestDelim = delim
		}
	}

	return bestDelim
}

func countDelimiterPerLine(sample []byte, delim byte) []int {
	var counts []int
	inQuote := false
	count := 0

	for _, b := range sample {
		if b == '"' {
			inQuote = !inQuote
			continue
		}
		if !inQuote {
			if b == delim {
				count++
			} else if b == '\n' {
				counts = append(counts, count)
				count = 0
			}
		}
	}
	if count > 0 {
		counts = append(counts, count)
	}
	return counts
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func variance(values []int) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := float64(v) - m
		sum += d * d
	}
	return sum / float64(len(values))
}
