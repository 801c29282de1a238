package council

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"conclave/internal/archetype"
	"conclave/internal/config"
	"conclave/internal/domain"
)

// RefineIdentity asks the model to propose a replacement identity vector
// for a freshly extracted one. The proposal is clamped to within 0.2 of
// the baseline per archetype, and any failure (no key, transport error,
// unparseable output) falls back to the baseline unchanged.
func RefineIdentity(ctx context.Context, client *ChatClient, cfg config.LLM, commander domain.Card, baseline domain.Identity) domain.Identity {
	if client == nil || len(baseline) == 0 {
		return baseline
	}
	system := "You tune Commander deck identity weights. " +
		"Return ONLY a JSON object mapping archetype names to weights in [0,1]."

	baselineJSON, err := json.Marshal(baseline)
	if err != nil {
		return baseline
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Commander: %s\n", commander.Name)
	fmt.Fprintf(&b, "Commander text: %s\n", commander.OracleText)
	fmt.Fprintf(&b, "Extracted identity: %s\n", baselineJSON)
	b.WriteString("Propose the full replacement identity as a JSON object.")

	content, err := client.Complete(ctx, cfg.Model, 0.3, system, b.String())
	if err != nil {
		return baseline
	}
	proposed := ParseIdentity(content)
	if proposed == nil {
		return baseline
	}
	return archetype.ClampRefinement(baseline, proposed)
}

// ParseIdentity extracts a JSON object of archetype weights from LLM
// output, tolerating surrounding prose. Non-numeric entries are dropped;
// anything unparseable yields nil.
func ParseIdentity(text string) domain.Identity {
	payload, ok := extractObject(text)
	if !ok {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil
	}
	identity := domain.Identity{}
	for k, v := range raw {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		identity[k] = f
	}
	return identity
}

func extractObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
