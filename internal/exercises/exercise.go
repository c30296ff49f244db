package exercises

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"
)

var ErrExerciseNotFound = errors.New("exercise not found")

// Exercise is immutable catalog reference data, seeded once and never
// deleted by normal use.
type Exercise struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Muscles      []string  `json:"muscles"`
	Equipment    []string  `json:"equipment"`
	Instructions string    `json:"instructions,omitempty"`
	Aliases      []string  `json:"aliases,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	// declared per-exercise defaults for newly added plan items,
	// zero means "use the universal fallback"
	DefaultReps    int `json:"defaultReps,omitempty"`
	DefaultRestSec int `json:"defaultRestSec,omitempty"`
}

// CatalogOptions holds the distinct muscle and equipment tags across
// the whole catalog, used by clients to populate filter dropdowns.
type CatalogOptions struct {
	Muscles   []string `json:"muscles"`
	Equipment []string `json:"equipment"`
}

var (
	spacesAndDashesRe = regexp.MustCompile(`[\s-]+`)
	nonWordRe         = regexp.MustCompile(`[^\w]`)
	multiUnderscoreRe = regexp.MustCompile(`_+`)
)

// NormalizeKey turns a free-form label into a stable catalog key:
// "Bench-Press (barbell)" -> "bench_press_barbell".
func NormalizeKey(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	key = spacesAndDashesRe.ReplaceAllString(key, "_")
	key = nonWordRe.ReplaceAllString(key, "")
	key = multiUnderscoreRe.ReplaceAllString(key, "_")
	return strings.Trim(key, "_")
}

// TitleCaseLabel renders a normalized key back into a display label:
// "bench_press" -> "Bench Press".
func TitleCaseLabel(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ExtractOptions collects the distinct muscle and equipment tags from
// the given exercises, normalized and sorted alphabetically.
func ExtractOptions(all []Exercise) CatalogOptions {
	musclesSet := make(map[string]struct{})
	equipmentSet := make(map[string]struct{})
	for _, ex := range all {
		for _, m := range ex.Muscles {
			if key := NormalizeKey(m); key != "" {
				musclesSet[key] = struct{}{}
			}
		}
		for _, e := range ex.Equipment {
			if key := NormalizeKey(e); key != "" {
				equipmentSet[key] = struct{}{}
			}
		}
	}
	return CatalogOptions{
		Muscles:   sortedKeys(musclesSet),
		Equipment: sortedKeys(equipmentSet),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
