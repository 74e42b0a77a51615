package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	sectionSystem  = "### System"
	sectionContext = "### Context"
	sectionUser    = "### User"
)

// BuildPrompt lays out the system prompt, the JSON context and the user
// prompt, in that order, each under its own section marker. Empty sections
// are omitted.
func BuildPrompt(req Request) (string, error) {
	var b strings.Builder

	if req.SystemPrompt != "" {
		b.WriteString(sectionSystem)
		b.WriteString("\n")
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}

	if len(req.Context) > 0 {
		data, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal context: %w", err)
		}
		b.WriteString(sectionContext)
		b.WriteString("\n```json\n")
		b.Write(data)
		b.WriteString("\n```\n\n")
	}

	b.WriteString(sectionUser)
	b.WriteString("\n")
	b.WriteString(req.Prompt)

	return b.String(), nil
}
