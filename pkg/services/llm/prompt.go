package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voxline-ai/voxline/pkg/core/call"
)

// systemPrompt is the per-turn instruction set. Listing the collected
// fields and forbidding re-requests is a correctness requirement: the
// caller must never be asked twice for the same slot.
const systemPrompt = `You are Alex, a friendly voice sales agent for %s qualifying a real-estate lead over the phone.

Lead context:
%s

Current conversation stage: %s

Fields already collected (NEVER ask for any of these again):
%s

Fields still needed: purpose, budget_confirmed, timeline, property_type, location.

Keep replies short and natural for speech: one or two sentences, no markdown, no lists. Move the conversation through the stages: intro, permission, discovery, qualification, presentation, objection_handling, trial_close, closing, follow_up_scheduled, deal_closed, dead_end.

Respond with ONLY a JSON object:
{"intent": "<caller intent>", "next_stage": "<one of the stages>", "reply_text": "<what to say next>", "should_end_call": <true|false>, "extracted_fields": {"<field>": <value or null>}}`

// reformatPrompt is appended on the single retry after malformed output.
const reformatPrompt = "Your previous reply was not valid JSON. Respond again with ONLY the JSON object described above, no prose."

// BuildSystemPrompt renders the system instructions for a turn.
func BuildSystemPrompt(company string, req Request) string {
	return fmt.Sprintf(systemPrompt,
		company,
		formatLead(req.Lead),
		string(req.Stage),
		formatCollected(req.Collected),
	)
}

// BuildConversation renders the transcript tail as alternating speaker
// lines for providers without native chat history.
func BuildConversation(entries []call.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		role := "Caller"
		if e.Speaker == call.SpeakerAgent {
			role = "Agent"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, e.Text)
	}
	return b.String()
}

func formatLead(lead call.LeadContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- name: %s\n", orUnknown(lead.Name))
	fmt.Fprintf(&b, "- property_type: %s\n", orUnknown(lead.PropertyType))
	fmt.Fprintf(&b, "- location: %s\n", orUnknown(lead.Location))
	if lead.Budget > 0 {
		fmt.Fprintf(&b, "- budget: %.0f\n", lead.Budget)
	} else {
		b.WriteString("- budget: unknown\n")
	}
	fmt.Fprintf(&b, "- source: %s", orUnknown(lead.Source))
	return b.String()
}

func formatCollected(fields map[string]any) string {
	if len(fields) == 0 {
		return "(none yet)"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, fields[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
