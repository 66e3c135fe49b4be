package usecase

import (
	"fmt"
	"strings"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

const systemInstructions = `You are Dining Bot, a helpful assistant for UMass Dining.
Answer the user's question using ONLY the menu data provided in the conversation.
Do not make up or invent any food items.
If the answer isn't in the provided data, say so clearly.
Be concise, friendly, and include specific details like dining hall, meal and nutritional information when relevant.
NEVER guess allergen information. Only repeat what is explicitly provided in the menu data.`

const conversationalInstructions = `You are Dining Bot, a helpful assistant for UMass Dining.
The user is making small talk. Reply briefly and offer to help find menu items.
Do not name specific menu items.`

type PromptInput struct {
	Question     string
	History      []domain.ConversationTurn
	Candidates   []domain.RetrievalCandidate
	Profile      domain.UserProfile
	DailyStatus  *domain.DailyStatus
	RetrievalRan bool
	TokenBudget  int
}

// BuildPrompt assembles the generation input: our system turn, the prior
// conversation cut to budget, and a final user turn carrying the profile,
// daily status, menu facts and the raw question.
func BuildPrompt(in PromptInput) domain.Prompt {
	system := systemInstructions
	if !in.RetrievalRan {
		system = conversationalInstructions
	}

	turns := make([]domain.ConversationTurn, 0, len(in.History)+2)
	turns = append(turns, domain.ConversationTurn{Role: domain.RoleSystem, Content: system})
	turns = append(turns, in.History...)
	turns = append(turns, domain.ConversationTurn{Role: domain.RoleUser, Content: buildUserTurn(in)})

	kept, dropped := TruncateConversation(turns, in.TokenBudget)

	estimated := 0
	for _, turn := range kept {
		estimated += EstimateTokens(turn.Content)
	}
	return domain.Prompt{
		Turns:           kept,
		Candidates:      in.Candidates,
		TruncatedTurns:  dropped,
		EstimatedTokens: estimated,
	}
}

func buildUserTurn(in PromptInput) string {
	var b strings.Builder

	if in.DailyStatus != nil {
		s := in.DailyStatus
		b.WriteString("[Current Daily Status]\n")
		fmt.Fprintf(&b, "- Eaten: %.0f kcal (Goal: %.0f)\n", s.CaloriesTotal, s.CaloriesTarget)
		fmt.Fprintf(&b, "- Protein: %.0fg (Goal: %.0fg)\n", s.ProteinTotal, s.ProteinTarget)
		fmt.Fprintf(&b, "- REMAINING BUDGET: %.0f kcal, %.0fg protein\n\n", s.RemainingCalories, s.RemainingProtein)
	}

	if block := profileBlock(in.Profile); block != "" {
		b.WriteString(block)
		b.WriteString("\n")
	}

	if in.RetrievalRan {
		if len(in.Candidates) == 0 {
			b.WriteString("Menu Data:\n")
			b.WriteString(domain.NoMatchingItemsFact)
			b.WriteString("\n\n")
		} else {
			fmt.Fprintf(&b, "Menu Data (%d items):\n", len(in.Candidates))
			for i, c := range in.Candidates {
				if i > 0 {
					b.WriteString("\n---\n")
				}
				b.WriteString(formatCandidate(c))
			}
			b.WriteString("\n\n")
		}
	}

	b.WriteString("User Question: ")
	b.WriteString(in.Question)
	return b.String()
}

func profileBlock(p domain.UserProfile) string {
	var lines []string
	if len(p.Diets) > 0 {
		lines = append(lines, "- Dietary restrictions: "+strings.Join(p.Diets, ", "))
	}
	if len(p.Allergies) > 0 {
		lines = append(lines, "- Allergies (never recommend): "+strings.Join(p.Allergies, ", "))
	}
	if strings.TrimSpace(p.Goal) != "" {
		lines = append(lines, "- Health goal: "+p.Goal)
	}
	if len(p.LikedCuisines) > 0 {
		lines = append(lines, "- Likes: "+strings.Join(p.LikedCuisines, ", "))
	}
	if len(p.Dislikes) > 0 {
		lines = append(lines, "- Dislikes: "+strings.Join(p.Dislikes, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "User Profile:\n" + strings.Join(lines, "\n") + "\n"
}

// formatCandidate renders one item as key: value facts.
func formatCandidate(c domain.RetrievalCandidate) string {
	item := c.Item
	match := string(c.Provenance)
	if c.DoublyRetrieved {
		match += " (also matched by description)"
	}

	fields := [][2]string{
		{"Item", item.Name},
		{"Dining Hall", item.DiningHall},
		{"Meal", item.MealPeriod},
		{"Date", domain.DateOnly(item.ServingDate).Format(domain.DateLayout)},
		{"Calories", formatAmount(item.Calories, "")},
		{"Protein", formatAmount(item.ProteinG, "g")},
		{"Carbs", formatAmount(item.CarbsG, "g")},
		{"Fat", formatAmount(item.FatG, "g")},
		{"Sugar", formatAmount(item.SugarsG, "g")},
		{"Allergens", joinOr(item.Allergens, "None listed")},
		{"Diet Types", joinOr(item.DietTypes, "None")},
		{"Ingredients", joinOr(item.Ingredients, "Not listed")},
	}
	if item.ServingSize != "" {
		fields = append(fields, [2]string{"Serving Size", item.ServingSize})
	}
	if item.Description != "" {
		fields = append(fields, [2]string{"Description", item.Description})
	}
	fields = append(fields, [2]string{"Match", match})

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(f[0])
		b.WriteString(": ")
		b.WriteString(f[1])
	}
	return b.String()
}

func formatAmount(v *float64, unit string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%s", *v, unit)
}

func joinOr(values []string, empty string) string {
	if len(values) == 0 {
		return empty
	}
	return strings.Join(values, ", ")
}
