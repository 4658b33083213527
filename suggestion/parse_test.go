package suggestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/dispute"
)

func texts(opts []dispute.Suggestion) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Text)
	}
	return out
}

func ids(opts []dispute.Suggestion) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.ID)
	}
	return out
}

func TestParse_AnalysisAndOptionLines(t *testing.T) {
	got := Parse("Analysis: Conflict over refund.\nOption 1: Pay $100\nOption 2: Refund 50%\nOption 3: Replace item")

	assert.Equal(t, "Conflict over refund.", got.Analysis)
	assert.Equal(t, []string{"Pay $100", "Refund 50%", "Replace item"}, texts(got.Options))
	assert.Equal(t, []string{"1", "2", "3"}, ids(got.Options))
	assert.Equal(t, StrategySplit, got.Strategy)
}

func TestParse_MarkdownDecoration(t *testing.T) {
	text := "**Analysis:** The seller shipped late.\n\n" +
		"**Option 1:** Refund the shipping fee.\n" +
		"**Option 2:** Offer a 20% discount.\n" +
		"**Option 3:** Cancel the order.\n\n" +
		"Note: these are only suggestions."

	got := Parse(text)

	assert.Equal(t, "The seller shipped late.", got.Analysis)
	assert.Equal(t, []string{"Refund the shipping fee.", "Offer a 20% discount.", "Cancel the order."}, texts(got.Options))
}

func TestParse_CodeFenceIsIgnored(t *testing.T) {
	got := Parse("```\nAnalysis: A late delivery.\nOption 1: X\nOption 2: Y\nOption 3: Z\n```")

	assert.Equal(t, "A late delivery.", got.Analysis)
	assert.Equal(t, []string{"X", "Y", "Z"}, texts(got.Options))
}

func TestParse_BareNumeralsWithLeadingProse(t *testing.T) {
	text := "The parties disagree on delivery.\n" +
		"1. Redeliver within a week\n" +
		"2. Partial refund of 30%\n" +
		"3) Full refund on return"

	got := Parse(text)

	assert.Equal(t, "The parties disagree on delivery.", got.Analysis)
	assert.Equal(t, []string{"Redeliver within a week", "Partial refund of 30%", "Full refund on return"}, texts(got.Options))
	assert.Equal(t, StrategySplit, got.Strategy)
}

func TestParse_VerdictHeaders(t *testing.T) {
	got := Parse("Analysis: Shared fault.\nVerdict 1: Split costs\nVerdict 2: Defendant pays\nVerdict 3: Plaintiff pays")

	assert.Equal(t, []string{"Split costs", "Defendant pays", "Plaintiff pays"}, texts(got.Options))
}

func TestParse_InlineOptionsFallBackToSearch(t *testing.T) {
	got := Parse("Analysis: Both sides share blame. Option 1: Split the cost. Option 2: Book a mediator session. Option 3: File in small claims.")

	assert.Equal(t, "Both sides share blame.", got.Analysis)
	assert.Equal(t, StrategySearch, got.Strategy)
	assert.Equal(t, []string{"Split the cost.", "Book a mediator session.", "File in small claims."}, texts(got.Options))
	assert.Equal(t, []string{"1", "2", "3"}, ids(got.Options))
}

func TestParse_TwoOptionsOnly(t *testing.T) {
	got := Parse("Analysis: Minor issue.\nOption 1: Apologise\nOption 2: Refund")

	assert.Equal(t, StrategySearch, got.Strategy)
	assert.Equal(t, []string{"Apologise", "Refund"}, texts(got.Options))
}

func TestParse_UnstructuredTextBecomesAnalysis(t *testing.T) {
	got := Parse("I am unable to suggest a settlement for this case.")

	assert.Equal(t, "I am unable to suggest a settlement for this case.", got.Analysis)
	assert.Empty(t, got.Options)
	assert.Equal(t, StrategyNone, got.Strategy)
}

func TestParse_EmptyInputUsesPlaceholder(t *testing.T) {
	got := Parse("   ")

	assert.Equal(t, AnalysisPlaceholder, got.Analysis)
	assert.Empty(t, got.Options)
}

func TestParse_OptionsWithoutAnalysis(t *testing.T) {
	got := Parse("Option 1: Pay\nOption 2: Refund\nOption 3: Replace")

	assert.Equal(t, AnalysisPlaceholder, got.Analysis)
	require.Len(t, got.Options, 3)
	assert.Equal(t, "Replace", got.Options[2].Text)
}

func TestParse_NeverReturnsMoreThanThree(t *testing.T) {
	got := Parse("Analysis: Many ideas.\nOption 1: A\nOption 2: B\nOption 3: C\nOption 4: D")

	assert.Equal(t, []string{"A", "B", "C"}, texts(got.Options))
}
