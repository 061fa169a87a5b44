package genai

import "strings"

const basePrompt = `You are a senior product manager. Turn the user's idea into a complete
Product Requirements Document in markdown. Start with a single H1 title line. Cover: problem
statement, target users, goals and non-goals, user stories, functional requirements,
success metrics, and open questions. Be specific and concise.`

const leanPrompt = `You are a senior product manager. Turn the user's idea into a one-page
lean PRD in markdown. Start with a single H1 title line. Cover only: problem, solution
sketch, target users, and the three riskiest assumptions.`

func systemPrompt(template string) string {
	if template == "lean" {
		return leanPrompt
	}
	return basePrompt
}

func userPrompt(idea string) string {
	return "Idea:\n" + strings.TrimSpace(idea)
}

// extractTitle takes the first markdown heading of the generated
// document, falling back to a truncated form of the idea.
func extractTitle(body, idea string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if t := strings.TrimSpace(strings.TrimLeft(line, "#")); strings.HasPrefix(line, "#") && t != "" {
			return t
		}
	}
	idea = strings.TrimSpace(idea)
	if len(idea) > 80 {
		return idea[:80]
	}
	if idea == "" {
		return "Untitled PRD"
	}
	return idea
}
