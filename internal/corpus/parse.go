package corpus

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/cinetalk/internal/models"
)

// MaxTopCharacters is the size of the default character roster.
const MaxTopCharacters = 2

// parseVector decodes an embedding cell such as "[0.1, -0.2]", "(0.1 -0.2)" or
// "0.1 -0.2". Anything malformed, including NaN or Inf entries, yields nil.
func parseVector(cell string) []float32 {
	s := strings.TrimSpace(cell)
	if len(s) >= 2 {
		if (s[0] == '[' && s[len(s)-1] == ']') || (s[0] == '(' && s[len(s)-1] == ')') {
			s = s[1 : len(s)-1]
		}
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil
	}
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		out[i] = float32(v)
	}
	return out
}

// topCharacters returns up to MaxTopCharacters speakers by line count, most frequent
// first. Ties keep first-appearance order and blank speakers are ignored.
func topCharacters(lines []models.DialogueLine) []string {
	counts := make(map[string]int)
	var order []string
	for i := range lines {
		name := strings.TrimSpace(lines[i].Speaker)
		if name == "" {
			continue
		}
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > MaxTopCharacters {
		order = order[:MaxTopCharacters]
	}
	return order
}
