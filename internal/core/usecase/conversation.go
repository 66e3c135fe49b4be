package usecase

import (
	"errors"
	"strings"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// splitConversation returns the latest user question and the prior turns
// worth keeping as history. Caller-supplied system turns are discarded; the
// system instruction is always ours.
func splitConversation(messages []domain.ConversationTurn, maxHistory int) (string, []domain.ConversationTurn, error) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "read conversation", errors.New("no user message"))
	}

	history := make([]domain.ConversationTurn, 0, last)
	for _, turn := range messages[:last] {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		switch turn.Role {
		case domain.RoleUser, domain.RoleAssistant:
			history = append(history, domain.ConversationTurn{Role: turn.Role, Content: content})
		}
	}
	return strings.TrimSpace(messages[last].Content), lastTurns(history, maxHistory), nil
}

// EstimateTokens approximates model tokens as one per four characters.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// TruncateConversation drops turns from the oldest end until the estimate
// fits budget. The first system turn and the last user turn are never
// dropped, even when they alone exceed the budget.
func TruncateConversation(turns []domain.ConversationTurn, budget int) ([]domain.ConversationTurn, int) {
	if budget <= 0 || len(turns) == 0 {
		return turns, 0
	}

	system, lastUser := -1, -1
	total := 0
	for i, turn := range turns {
		total += EstimateTokens(turn.Content)
		if turn.Role == domain.RoleSystem && system < 0 {
			system = i
		}
		if turn.Role == domain.RoleUser {
			lastUser = i
		}
	}

	drop := make([]bool, len(turns))
	dropped := 0
	for i := 0; i < len(turns) && total > budget; i++ {
		if i == system || i == lastUser {
			continue
		}
		drop[i] = true
		dropped++
		total -= EstimateTokens(turns[i].Content)
	}
	if dropped == 0 {
		return turns, 0
	}

	out := make([]domain.ConversationTurn, 0, len(turns)-dropped)
	for i, turn := range turns {
		if !drop[i] {
			out = append(out, turn)
		}
	}
	return out, dropped
}
