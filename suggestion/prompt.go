package suggestion

import (
	"fmt"
	"strings"

	"disputeflow/agreement"
	"disputeflow/dispute"
)

const (
	// TranscriptBudget bounds the characters of chat history sent upstream.
	TranscriptBudget = 4000
	truncatedMarker  = "[Earlier messages truncated]"
)

const systemPrompt = "You are an impartial dispute mediator. You propose fair and specific settlements " +
	"that both parties could accept, and you always answer in the exact format requested."

// Prompt is one request to the completion service.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt assembles the mediation request from the dispute facts and the
// chat transcript. When force is set the previous options are listed so the
// model proposes different ones.
func BuildPrompt(d dispute.Dispute, msgs []dispute.Message, force bool) Prompt {
	var b strings.Builder

	b.WriteString("DISPUTE DETAILS\n")
	fmt.Fprintf(&b, "Title: %s\n", d.Title)
	fmt.Fprintf(&b, "Category: %s\n", d.Category)
	fmt.Fprintf(&b, "Description: %s\n", d.Description)
	fmt.Fprintf(&b, "Amount disputed: %s\n", orDefault(d.AmountDisputed, "N/A"))
	fmt.Fprintf(&b, "Evidence: %s\n", orDefault(d.EvidenceText, "None provided"))

	b.WriteString("\nCHAT HISTORY (between plaintiff and defendant)\n")
	b.WriteString(Transcript(msgs, TranscriptBudget))
	b.WriteString("\n")

	if force && len(d.AISuggestions) > 0 {
		b.WriteString("\nPREVIOUSLY SUGGESTED OPTIONS (propose different ones, do not repeat these)\n")
		for i, s := range d.AISuggestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s.Text)
		}
	}

	b.WriteString("\nRespond in exactly this format and nothing else:\n")
	b.WriteString("Analysis: <one paragraph weighing both positions>\n")
	b.WriteString("Option 1: <first settlement option>\n")
	b.WriteString("Option 2: <second settlement option>\n")
	b.WriteString("Option 3: <third settlement option>\n")

	return Prompt{System: systemPrompt, User: b.String()}
}

// Transcript renders msgs oldest first, keeping only the newest messages that
// fit in budget characters. A marker line replaces anything dropped.
func Transcript(msgs []dispute.Message, budget int) string {
	if len(msgs) == 0 {
		return "No chat history yet."
	}

	lines := make([]string, 0, len(msgs))
	used := 0
	truncated := false
	for i := len(msgs) - 1; i >= 0; i-- {
		line := fmt.Sprintf("%s: %s", speaker(msgs[i].SenderRole), strings.TrimSpace(msgs[i].Content))
		if used+len(line)+1 > budget {
			truncated = true
			break
		}
		used += len(line) + 1
		lines = append(lines, line)
	}

	out := make([]string, 0, len(lines)+1)
	if truncated {
		out = append(out, truncatedMarker)
	}
	for i := len(lines) - 1; i >= 0; i-- {
		out = append(out, lines[i])
	}
	return strings.Join(out, "\n")
}

func speaker(role agreement.PartyRole) string {
	switch role {
	case agreement.RolePlaintiff:
		return "Plaintiff"
	case agreement.RoleDefendant:
		return "Defendant"
	default:
		return "Unknown"
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
