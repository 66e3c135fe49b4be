package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UIFilters are the caller-selected restrictions sent with a chat request.
type UIFilters struct {
	DiningHalls []string `json:"dining_halls,omitempty"`
	MealPeriods []string `json:"meals,omitempty"`
}

func (f UIFilters) IsEmpty() bool {
	return len(f.DiningHalls) == 0 && len(f.MealPeriods) == 0
}

type ChatRequest struct {
	UserID   string             `json:"user_id,omitempty"`
	Messages []ConversationTurn `json:"messages"`
	Filters  UIFilters          `json:"filters"`
	// ServingDate overrides "today" when set.
	ServingDate string `json:"date,omitempty"`
}
