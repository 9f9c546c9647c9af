package extract

import (
	"unicode"
)

const (
	largeTextThreshold = 1_000_000 // 1MB
	sampleSize         = 100_000   // 100KB per sample, 3 samples taken
	maxWordCount       = 10_000_000
)

// CountWords counts words in text, handling continuous runs with no
// whitespace by detecting camelCase boundaries and letter<->digit
// transitions as implicit word breaks. For inputs over largeTextThreshold it
// samples three fixed-size windows and extrapolates rather than scanning the
// whole text, capping the result at maxWordCount.
func CountWords(text string) int {
	if len(text) > largeTextThreshold {
		return countWordsBySampling(text)
	}
	return countWordsExact(text)
}

func countWordsBySampling(text string) int {
	runes := []rune(text)
	n := len(runes)
	sampleRunes := sampleSize
	if sampleRunes > n/3 {
		sampleRunes = n / 3
	}
	if sampleRunes <= 0 {
		return capWords(countWordsExact(text))
	}

	starts := []int{0, n/2 - sampleRunes/2, n - sampleRunes}
	total := 0
	for _, start := range starts {
		if start < 0 {
			start = 0
		}
		end := start + sampleRunes
		if end > n {
			end = n
		}
		total += countWordsExact(string(runes[start:end]))
	}

	avgPerSample := float64(total) / 3
	scale := float64(n) / float64(sampleRunes)
	return capWords(int(avgPerSample * scale))
}

func capWords(n int) int {
	if n > maxWordCount {
		return maxWordCount
	}
	return n
}

// countWordsExact walks the text once, splitting on whitespace as usual but
// also treating a lowercase->uppercase transition (camelCase) and a
// letter<->digit transition as a word boundary within an otherwise
// unbroken run of characters.
func countWordsExact(text string) int {
	count := 0
	inWord := false
	var prev rune
	havePrev := false

	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			havePrev = false
			continue
		}

		boundary := false
		if havePrev {
			prevIsLower := unicode.IsLower(prev)
			curIsUpper := unicode.IsUpper(r)
			prevIsLetter := unicode.IsLetter(prev)
			curIsLetter := unicode.IsLetter(r)
			prevIsDigit := unicode.IsDigit(prev)
			curIsDigit := unicode.IsDigit(r)

			if prevIsLower && curIsUpper {
				boundary = true
			} else if prevIsLetter && curIsDigit {
				boundary = true
			} else if prevIsDigit && curIsLetter {
				boundary = true
			}
		}

		if !inWord || boundary {
			count++
		}
		inWord = true
		prev = r
		havePrev = true
	}

	return count
}
