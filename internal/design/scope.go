package design

import (
	"fmt"
	"strings"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// highConfidenceSteps is the number of flagged steps at which a split is
// considered clearly warranted
const highConfidenceSteps = 3

// AnalyzeScope returns a split proposal when any step is tagged
// out-of-scope or partial, and nil otherwise.
func AnalyzeScope(result *types.DesignResult, taskTitle string) *types.ScopeAnalysis {
	if result == nil || len(result.Steps) == 0 {
		return nil
	}

	var flagged []types.DesignStep
	for _, step := range result.Steps {
		if step.ScopeTag == types.ScopeOutOfScope || step.ScopeTag == types.ScopePartial {
			flagged = append(flagged, step)
		}
	}
	if len(flagged) == 0 {
		return nil
	}

	analysis := &types.ScopeAnalysis{
		OutOfScopeSteps:          make([]int, 0, len(flagged)),
		SuggestedEpicTitle:       suggestedTitle(flagged, taskTitle),
		SuggestedEpicDescription: suggestedDescription(flagged, taskTitle),
	}
	for _, step := range flagged {
		analysis.OutOfScopeSteps = append(analysis.OutOfScopeSteps, step.Number)
	}

	switch {
	case len(flagged) == len(result.Steps):
		// everything flagged usually means a bad parse or the wrong epic
		analysis.Confidence = types.ConfidenceLow
	case len(flagged) >= highConfidenceSteps:
		analysis.Confidence = types.ConfidenceHigh
	default:
		analysis.Confidence = types.ConfidenceMedium
	}

	return analysis
}

func suggestedTitle(flagged []types.DesignStep, taskTitle string) string {
	if len(flagged) == 1 && flagged[0].Title != "" {
		return flagged[0].Title
	}
	if taskTitle == "" {
		return "Follow-up work"
	}
	return fmt.Sprintf("%s (follow-up)", taskTitle)
}

func suggestedDescription(flagged []types.DesignStep, taskTitle string) string {
	var b strings.Builder
	if taskTitle != "" {
		fmt.Fprintf(&b, "Work split out of %q because it falls outside the current epic:\n", taskTitle)
	} else {
		b.WriteString("Work that falls outside the current epic:\n")
	}
	for _, step := range flagged {
		fmt.Fprintf(&b, "- Step %d: %s", step.Number, step.Title)
		if step.ScopeReason != "" {
			fmt.Fprintf(&b, " (%s)", step.ScopeReason)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
