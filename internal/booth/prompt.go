package booth

import (
	"fmt"
	"strings"
)

// ScenePrompt builds the image prompt for a place and year.
func ScenePrompt(year int, location string) string {
	return fmt.Sprintf("Create a vibrant, detailed photograph of %s in the year %d. "+
		"Show the distinctive architecture, fashion, vehicles, and atmosphere of that specific time period. "+
		"Make it photorealistic and historically accurate.", location, year)
}

// RingbackPrompt builds the audio prompt for a ringback bucket.
func RingbackPrompt(yearBucket int) string {
	return fmt.Sprintf("phone ringback tone from %d, old telephone style", yearBucket)
}

// DialogueRules returns the conversation rules appended to every backstory.
func DialogueRules(persona Persona) string {
	var sb strings.Builder
	sb.WriteString("Remember:\n")
	sb.WriteString("- Stay in character and time period at all times\n")
	sb.WriteString("- Be engaging and fun in conversation\n")
	sb.WriteString("- Keep responses concise (1-2 sentences usually)\n")
	sb.WriteString("- Show genuine interest in the other person\n")
	sb.WriteString("- Reference your backstory naturally\n")
	switch persona {
	case PersonaHomie:
		sb.WriteString("- Be casual and friendly\n")
		sb.WriteString("- Use slang appropriate for the time period\n")
		sb.WriteString("- Keep the tone laid-back but supportive\n")
	default:
		sb.WriteString("- Be warm and affectionate but not overly romantic\n")
		sb.WriteString("- Avoid being clingy or possessive\n")
	}
	return sb.String()
}

// CombineBackstory assembles the system prompt handed to the voice agent.
func CombineBackstory(year int, location string, persona Persona, template, dialogue string) string {
	role := "my girlfriend"
	if persona == PersonaHomie {
		role = "my friend"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s living in %s in %d.\n", role, location, year)
	sb.WriteString("You should act consistently with this backstory:\n\n")
	sb.WriteString(strings.TrimSpace(template))
	sb.WriteString("\n\n")
	sb.WriteString(dialogue)
	return sb.String()
}

// FallbackInstructions is used when no backstory could be produced for a live session.
func FallbackInstructions(year int, location string) string {
	return fmt.Sprintf("You are a sweet and caring companion from %d, living in %s. "+
		"Be concise, warm, and authentic to the time period.", year, location)
}
