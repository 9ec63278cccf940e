package agent

import (
	"fmt"
	"strings"
)

const (
	traitsHeader   = "\nYour key traits are:"
	examplesHeader = "\nHere are some examples of your style (Please avoid repeating any of these):"

	// selfReplySuffix is appended to the persona prompt when the agent
	// replies to one of its own tweets.
	selfReplySuffix = "\n\nYou are replying to your own previous tweet. Stay in character while building on your earlier thought."
)

// buildSystemPrompt assembles the persona prompt. Section order is
// semantically significant: bio first, then traits, then style examples,
// each section omitted entirely when its source list is empty.
func buildSystemPrompt(p *Profile) string {
	var parts []string
	parts = append(parts, p.Bio...)

	if len(p.Traits) > 0 {
		parts = append(parts, traitsHeader)
		for _, trait := range p.Traits {
			parts = append(parts, "- "+trait)
		}
	}
	if len(p.Examples) > 0 {
		parts = append(parts, examplesHeader)
		for _, example := range p.Examples {
			parts = append(parts, "- "+example)
		}
	}
	return strings.Join(parts, "\n")
}

// postPrompt instructs the model to produce a freestanding tweet. The
// length, tagging and topic constraints live in the prompt only; generated
// output is never validated against them.
func postPrompt(name string) string {
	return fmt.Sprintf("Generate an engaging tweet. Don't include any hashtags, links or emojis. "+
		"Keep it under 280 characters. The tweets should be pure commentary, do not shill any "+
		"coins or projects apart from %s. Do not repeat any of the tweets that were given as "+
		"example. Avoid the words AI and crypto.", name)
}

// replyPrompt references the source tweet under the same constraints.
func replyPrompt(name, sourceText string) string {
	return fmt.Sprintf("Generate a friendly, engaging reply to this tweet: %s. Keep it under "+
		"280 characters. Don't include any hashtags, links or emojis. The reply should be pure "+
		"commentary, do not shill any coins or projects apart from %s. Do not repeat any of the "+
		"tweets that were given as example. Avoid the words AI and crypto.", sourceText, name)
}
