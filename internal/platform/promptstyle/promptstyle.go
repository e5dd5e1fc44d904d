package promptstyle

import "strings"

const marker = "SPARRING_PROMPT_STYLE_V1"

// ApplySystem prepends a short guidance block to a system prompt. It is
// applied once; a prompt that already carries the block is returned as is.
func ApplySystem(system string, mode string) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, marker) {
		return base
	}

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou support a conversation-practice coach that prepares users for adversarial conversations.")
	b.WriteString("\nFollow the system and user instructions precisely.")
	b.WriteString("\nGround everything in the provided brief and inputs; do not invent facts or citations.")
	b.WriteString("\nIf information is missing, say so or use conservative defaults.")
	if strings.EqualFold(strings.TrimSpace(mode), "json") {
		b.WriteString("\nReturn a single JSON object that conforms to the schema and contains no extra keys.")
	} else {
		b.WriteString("\nBe concise and structured; no preamble.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return b.String()
}
