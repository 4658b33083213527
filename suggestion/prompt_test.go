package suggestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"disputeflow/agreement"
	"disputeflow/dispute"
)

func msg(role agreement.PartyRole, content string) dispute.Message {
	return dispute.Message{SenderRole: role, Content: content}
}

func TestTranscript_Empty(t *testing.T) {
	assert.Equal(t, "No chat history yet.", Transcript(nil, TranscriptBudget))
}

func TestTranscript_KeepsNewestWithinBudget(t *testing.T) {
	msgs := []dispute.Message{
		msg(agreement.RolePlaintiff, strings.Repeat("a", 40)),
		msg(agreement.RoleDefendant, "I shipped it on time"),
		msg(agreement.RolePlaintiff, "It arrived broken"),
	}

	got := Transcript(msgs, 70)

	assert.True(t, strings.HasPrefix(got, truncatedMarker))
	assert.NotContains(t, got, strings.Repeat("a", 40))
	assert.Contains(t, got, "Defendant: I shipped it on time\nPlaintiff: It arrived broken")
}

func TestTranscript_NoMarkerWhenEverythingFits(t *testing.T) {
	got := Transcript([]dispute.Message{msg(agreement.RolePlaintiff, "hello")}, TranscriptBudget)

	assert.Equal(t, "Plaintiff: hello", got)
}

func TestBuildPrompt_IncludesFactsAndFormat(t *testing.T) {
	d := dispute.Dispute{Title: "Broken chair", Category: "goods", Description: "Arrived cracked", AmountDisputed: "120 USD"}

	p := BuildPrompt(d, nil, false)

	assert.NotEmpty(t, p.System)
	assert.Contains(t, p.User, "Title: Broken chair")
	assert.Contains(t, p.User, "Amount disputed: 120 USD")
	assert.Contains(t, p.User, "Evidence: None provided")
	assert.Contains(t, p.User, "Option 3:")
	assert.NotContains(t, p.User, "PREVIOUSLY SUGGESTED")
}

func TestBuildPrompt_ForceListsPriorOptions(t *testing.T) {
	d := dispute.Dispute{
		Title:         "Broken chair",
		AISuggestions: []dispute.Suggestion{{ID: "1", Text: "Full refund"}, {ID: "2", Text: "Replace chair"}},
	}

	forced := BuildPrompt(d, nil, true)
	plain := BuildPrompt(d, nil, false)

	assert.Contains(t, forced.User, "1. Full refund")
	assert.Contains(t, forced.User, "2. Replace chair")
	assert.NotContains(t, plain.User, "Full refund")
}
