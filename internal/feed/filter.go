package feed

import (
	"sort"
	"strings"

	fuzzysearch "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/reelcast/reelcast/internal/domain"
	"github.com/sahilm/fuzzy"
)

// maxSuggestDistance bounds the edit distance of a "did you mean" suggestion
const maxSuggestDistance = 3

// Match is a filtered episode with the title positions that matched
type Match struct {
	Episode        domain.Episode
	MatchedIndexes []int
	Score          int
}

// titleIndex implements fuzzy.Source over lowercase titles
type titleIndex struct {
	episodes    []domain.Episode
	lowerTitles []string
}

func newTitleIndex(episodes []domain.Episode) *titleIndex {
	idx := &titleIndex{episodes: episodes, lowerTitles: make([]string, len(episodes))}
	for i, ep := range episodes {
		idx.lowerTitles[i] = strings.ToLower(ep.Title)
	}
	return idx
}

func (idx *titleIndex) String(i int) string { return idx.lowerTitles[i] }

func (idx *titleIndex) Len() int { return len(idx.episodes) }

// Filter returns the episodes whose titles fuzzy-match query, best first.
// An empty query returns every episode unranked.
func Filter(episodes []domain.Episode, query string) []Match {
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]Match, len(episodes))
		for i, ep := range episodes {
			out[i] = Match{Episode: ep}
		}
		return out
	}

	idx := newTitleIndex(episodes)
	matches := fuzzy.FindFrom(strings.ToLower(query), idx)

	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		out = append(out, Match{
			Episode:        idx.episodes[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		})
	}
	return out
}

// Suggest returns titles within a small edit distance of query, closest
// first. Used when Filter finds nothing, e.g. for a typo.
func Suggest(episodes []domain.Episode, query string) []domain.Episode {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	type scored struct {
		ep       domain.Episode
		distance int
	}
	var candidates []scored
	for _, ep := range episodes {
		title := strings.ToLower(ep.Title)
		distance := fuzzysearch.LevenshteinDistance(query, title)
		// Long titles: compare against the same-length prefix too
		if len(title) > len(query) {
			distance = min(distance, fuzzysearch.LevenshteinDistance(query, title[:len(query)]))
		}
		if distance <= maxSuggestDistance {
			candidates = append(candidates, scored{ep: ep, distance: distance})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	out := make([]domain.Episode, len(candidates))
	for i, c := range candidates {
		out[i] = c.ep
	}
	return out
}
