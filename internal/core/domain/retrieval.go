package domain

import "time"

type Provenance string

const (
	ProvenanceStructured Provenance = "structured"
	ProvenanceSemantic   Provenance = "semantic"
)

// NoMatchingItemsFact is placed in the prompt when retrieval returns nothing,
// so the model says so instead of inventing items.
const NoMatchingItemsFact = "No matching menu items were found for this request. Tell the user nothing matched and do not invent items."

// RetrievalCandidate is one item surfaced by a retrieval path. Rank is the
// 1-based position within its originating path.
type RetrievalCandidate struct {
	Item            MenuItem   `json:"item"`
	Provenance      Provenance `json:"provenance"`
	Rank            int        `json:"rank"`
	Score           float64    `json:"score,omitempty"`
	SemanticScore   float64    `json:"semantic_score,omitempty"`
	DoublyRetrieved bool       `json:"doubly_retrieved,omitempty"`
}

// SearchScope narrows semantic search. Empty fields are unconstrained.
type SearchScope struct {
	DiningHalls      []string
	MealPeriods      []string
	ServingDate      time.Time
	ExcludeAllergens []string
}

// ItemHit is a raw similarity hit identified by item key.
type ItemHit struct {
	Key   string
	Score float64
}

// Prompt is the assembled model input for one answer.
type Prompt struct {
	Turns           []ConversationTurn   `json:"turns"`
	Candidates      []RetrievalCandidate `json:"candidates"`
	TruncatedTurns  int                  `json:"truncated_turns"`
	EstimatedTokens int                  `json:"estimated_tokens"`
}

// RetrievalResult describes everything the coordinator decided before
// generation started.
type RetrievalResult struct {
	Intent          QueryIntent          `json:"intent"`
	Candidates      []RetrievalCandidate `json:"candidates"`
	Generation      uint64               `json:"catalog_generation"`
	StructuredCount int                  `json:"structured_count"`
	SemanticCount   int                  `json:"semantic_count"`
	// SafetyExclusions counts allergen items caught by the final post-filter.
	// Non-zero values mean a retrieval path leaked.
	SafetyExclusions   int    `json:"safety_exclusions"`
	ValidationFallback bool   `json:"validation_fallback,omitempty"`
	Prompt             Prompt `json:"-"`
}
