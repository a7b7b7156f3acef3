package stages

import (
	"context"
	"strings"

	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// ProjectAnalysisStage derives a deterministic complexity estimate and
// keyword summary from the card's description and acceptance criteria. A
// real deployment replaces this with an LLM call that reads the repo and
// produces a richer analysis under the same "project_analysis" namespace.
type ProjectAnalysisStage struct{}

// NewProjectAnalysisStage creates the stand-in project analysis stage.
func NewProjectAnalysisStage() *ProjectAnalysisStage { return &ProjectAnalysisStage{} }

func (s *ProjectAnalysisStage) Name() string { return "project_analysis" }

func (s *ProjectAnalysisStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	c, err := cardFrom(pctx)
	if err != nil {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return err
	}

	complexity := estimateComplexity(c.StoryPoints, len(c.AcceptanceCriteria))
	keywords := extractKeywords(c.Title + " " + c.Description)

	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"complexity":          complexity,
		"acceptance_criteria": len(c.AcceptanceCriteria),
		"keywords":            keywords,
		"requires_research":   len(c.UserResearchPrompts) > 0,
	}))
	pctx.SetShared("current_stage", s.Name())
	return nil
}

// estimateComplexity buckets a card by story points and the size of its
// acceptance criteria, giving later stages a deterministic signal to plan
// around without needing an LLM call.
func estimateComplexity(storyPoints, criteriaCount int) string {
	score := storyPoints + criteriaCount
	switch {
	case score <= 3:
		return "low"
	case score <= 8:
		return "medium"
	default:
		return "high"
	}
}

// extractKeywords returns the distinct words in text longer than three
// characters, lowercased, capped at ten - a crude stand-in for the kind of
// topic extraction an LLM-backed analysis stage would perform.
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:()\"'")
		if len(word) <= 3 || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
		if len(out) == 10 {
			break
		}
	}
	return out
}
