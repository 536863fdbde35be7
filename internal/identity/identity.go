// Package identity decides whether an incoming record duplicates an event
// already in the repository, using the exact external key with a fuzzy
// same-date fallback.
package identity

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"campusevents/internal/model"
	"campusevents/internal/normalize"
)

// Kind classifies the outcome of identity resolution.
type Kind int

const (
	New Kind = iota
	ExactDuplicate
	FuzzyDuplicate
)

func (k Kind) String() string {
	switch k {
	case ExactDuplicate:
		return "exact_duplicate"
	case FuzzyDuplicate:
		return "fuzzy_duplicate"
	default:
		return "new"
	}
}

// Identity is the resolution verdict for one record. MatchedKey is set for
// both duplicate kinds.
type Identity struct {
	Kind       Kind
	MatchedKey string
}

type entry struct {
	key       string
	composite string
}

// Index is an in-memory snapshot of existing events, built once per batch.
// Fuzzy comparison is scoped to same-date records only, which bounds the
// cost per candidate to the size of that day instead of the whole store.
// Staged records are added back via Add so intra-batch duplicates resolve
// without re-querying the repository.
type Index struct {
	threshold float64
	keys      map[string]struct{}
	byDate    map[string][]entry
}

// NewIndex builds an index over the current event set. threshold is the
// similarity score at or above which a record is a fuzzy duplicate.
func NewIndex(events []model.Event, threshold float64) *Index {
	idx := &Index{
		threshold: threshold,
		keys:      make(map[string]struct{}, len(events)),
		byDate:    make(map[string][]entry),
	}
	for _, ev := range events {
		idx.insert(ev.Key, ev.DateKey(), composite(ev.Title, ev.DateKey(), ev.Venue))
	}
	return idx
}

// Resolve classifies a normalized record against the index.
func (idx *Index) Resolve(rec normalize.Record) Identity {
	if _, ok := idx.keys[rec.Key]; ok {
		return Identity{Kind: ExactDuplicate, MatchedKey: rec.Key}
	}

	dateKey := rec.Date.Format(model.DateLayout)
	cand := composite(rec.Title, dateKey, rec.Venue)

	bestKey := ""
	bestSim := 0.0
	bestDist := 0
	for _, e := range idx.byDate[dateKey] {
		dist := levenshtein.ComputeDistance(cand, e.composite)
		sim := similarity(dist, len([]rune(cand)), len([]rune(e.composite)))
		if better(sim, dist, e.key, bestSim, bestDist, bestKey) {
			bestKey, bestSim, bestDist = e.key, sim, dist
		}
	}

	if bestKey != "" && bestSim >= idx.threshold {
		return Identity{Kind: FuzzyDuplicate, MatchedKey: bestKey}
	}
	return Identity{Kind: New}
}

// Add registers a staged record so later records in the same batch are
// resolved against it.
func (idx *Index) Add(rec normalize.Record) {
	dateKey := rec.Date.Format(model.DateLayout)
	idx.insert(rec.Key, dateKey, composite(rec.Title, dateKey, rec.Venue))
}

func (idx *Index) insert(key, dateKey, comp string) {
	if _, ok := idx.keys[key]; ok {
		return
	}
	idx.keys[key] = struct{}{}
	idx.byDate[dateKey] = append(idx.byDate[dateKey], entry{key: key, composite: comp})
}

// better orders candidates by highest similarity, then lowest edit distance,
// then lexicographically smallest key.
func better(sim float64, dist int, key string, bestSim float64, bestDist int, bestKey string) bool {
	if bestKey == "" {
		return true
	}
	if sim != bestSim {
		return sim > bestSim
	}
	if dist != bestDist {
		return dist < bestDist
	}
	return strings.Compare(key, bestKey) < 0
}

// Similarity is the normalized edit-distance score used for both duplicate
// suppression and recurring-series grouping.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	dist := levenshtein.ComputeDistance(a, b)
	return similarity(dist, len([]rune(a)), len([]rune(b)))
}

func similarity(dist, lenA, lenB int) float64 {
	if lenA == 0 && lenB == 0 {
		return 1.0
	}
	max := lenA
	if lenB > max {
		max = lenB
	}
	return 1.0 - float64(dist)/float64(max)
}

func composite(title, dateKey, venue string) string {
	return strings.ToLower(title + "|" + dateKey + "|" + venue)
}
