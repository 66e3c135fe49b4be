package usecase

import (
	"sort"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// MergeCandidates combines both retrieval paths into one ranked list.
// Items are deduplicated by key. When both paths return an item the
// structured entry is kept and marked as doubly retrieved. Structured
// candidates always precede semantic ones; inside each group structured
// order follows rank and semantic order follows similarity, with item key as
// the final tie-break. The result is cut to limit when limit > 0.
func MergeCandidates(structured, semantic []domain.RetrievalCandidate, limit int) []domain.RetrievalCandidate {
	structuredOut := make([]domain.RetrievalCandidate, 0, len(structured))
	position := make(map[string]int, len(structured)+len(semantic))

	for _, c := range sortedStructured(structured) {
		key := c.Item.Key()
		if _, dup := position[key]; dup {
			continue
		}
		c.Provenance = domain.ProvenanceStructured
		c.DoublyRetrieved = false
		c.SemanticScore = 0
		position[key] = len(structuredOut)
		structuredOut = append(structuredOut, c)
	}

	semanticOut := make([]domain.RetrievalCandidate, 0, len(semantic))
	seenSemantic := make(map[string]struct{}, len(semantic))
	for _, c := range sortedSemantic(semantic) {
		key := c.Item.Key()
		if idx, ok := position[key]; ok {
			if !structuredOut[idx].DoublyRetrieved {
				structuredOut[idx].DoublyRetrieved = true
				structuredOut[idx].SemanticScore = c.Score
			}
			continue
		}
		if _, dup := seenSemantic[key]; dup {
			continue
		}
		seenSemantic[key] = struct{}{}
		c.Provenance = domain.ProvenanceSemantic
		semanticOut = append(semanticOut, c)
	}

	out := make([]domain.RetrievalCandidate, 0, len(structuredOut)+len(semanticOut))
	out = append(out, structuredOut...)
	out = append(out, semanticOut...)
	return trimCandidates(out, limit)
}

func sortedStructured(in []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Item.Key() < out[j].Item.Key()
	})
	return out
}

func sortedSemantic(in []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.Key() < out[j].Item.Key()
	})
	return out
}

func trimCandidates(candidates []domain.RetrievalCandidate, limit int) []domain.RetrievalCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

// excludeAllergens is the final safety gate. It splits candidates into kept
// and removed.
func excludeAllergens(candidates []domain.RetrievalCandidate, allergies []string) ([]domain.RetrievalCandidate, []domain.RetrievalCandidate) {
	if len(allergies) == 0 {
		return candidates, nil
	}
	kept := make([]domain.RetrievalCandidate, 0, len(candidates))
	var removed []domain.RetrievalCandidate
	for _, c := range candidates {
		if _, hit := c.Item.ViolatedAllergen(allergies); hit {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, removed
}
