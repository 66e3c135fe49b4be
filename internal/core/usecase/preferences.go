package usecase

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

const (
	likedBoost     = 2
	dietBoost      = 1
	dislikePenalty = -3
)

// ApplyPreferences breaks ties with the profile's soft preferences. Liked
// cuisines and diet preferences lift an item, dislikes push it down, but only
// among candidates of the same provenance and score: similarity order and the
// requested structured sort are kept. The sort is stable and nothing is
// removed.
func ApplyPreferences(candidates []domain.RetrievalCandidate, profile domain.UserProfile) []domain.RetrievalCandidate {
	if len(candidates) == 0 || (len(profile.LikedCuisines) == 0 && len(profile.Dislikes) == 0 && len(profile.Diets) == 0) {
		return candidates
	}

	liked := phraseTokens(profile.LikedCuisines)
	disliked := phraseTokens(profile.Dislikes)

	out := make([]domain.RetrievalCandidate, len(candidates))
	copy(out, candidates)
	scores := make(map[string]int, len(out))
	for _, c := range out {
		scores[c.Item.Key()] = preferenceScore(c.Item, liked, disliked, profile.Diets)
	}

	sort.SliceStable(out, func(i, j int) bool {
		gi, gj := provenanceOrder(out[i].Provenance), provenanceOrder(out[j].Provenance)
		if gi != gj {
			return gi < gj
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return scores[out[i].Item.Key()] > scores[out[j].Item.Key()]
	})
	return out
}

func preferenceScore(item domain.MenuItem, liked, disliked []map[string]struct{}, diets []string) int {
	text := toTokenSet(strings.Join(append([]string{item.Name, item.Description}, item.Ingredients...), " "))

	score := 0
	for _, phrase := range liked {
		if tokenOverlap(phrase, text) == 1 {
			score += likedBoost
			break
		}
	}
	for _, diet := range diets {
		if item.HasDiet(diet) {
			score += dietBoost
			break
		}
	}
	for _, phrase := range disliked {
		if tokenOverlap(phrase, text) == 1 {
			score += dislikePenalty
			break
		}
	}
	return score
}

func provenanceOrder(p domain.Provenance) int {
	if p == domain.ProvenanceStructured {
		return 0
	}
	return 1
}

func phraseTokens(phrases []string) []map[string]struct{} {
	out := make([]map[string]struct{}, 0, len(phrases))
	for _, phrase := range phrases {
		tokens := toTokenSet(phrase)
		if len(tokens) == 0 {
			continue
		}
		out = append(out, tokens)
	}
	return out
}

func tokenOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
