package stages

import (
	"context"
	"fmt"

	"github.com/artemis-pipeline/artemis/pkg/devpool"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// CodeReviewStage scores the winning development artifact deterministically
// from its scorecard, producing a pipeline.ReviewReport. A real deployment
// replaces this with an LLM-backed reviewer reading the artifact directory
// itself; the contract - write a ReviewReport under "code_review" - stays
// the same.
type CodeReviewStage struct{}

func NewCodeReviewStage() *CodeReviewStage { return &CodeReviewStage{} }

func (s *CodeReviewStage) Name() string { return "code_review" }

func (s *CodeReviewStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	dev, ok := pctx.Get("development", "result")
	if !ok {
		err := fmt.Errorf("code_review: development result missing from context")
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return err
	}

	m, _ := dev.(map[string]interface{})
	scorecard, _ := m["scorecard"].(devpool.Scorecard)

	report := scoreReview(scorecard)
	pctx.Set(s.Name(), "review_report", report)
	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"overall_status":  string(report.OverallStatus),
		"overall_score":   report.OverallScore,
		"critical_issues": report.CriticalIssues,
		"high_issues":     report.HighIssues,
	}))
	pctx.SetShared("current_stage", s.Name())

	if report.OverallStatus == pipeline.ReviewFail {
		return fmt.Errorf("code_review: FAIL at score %d", report.OverallScore)
	}
	return nil
}

// scoreReview derives a deterministic ReviewReport from a development
// scorecard: overall_score mirrors the scorecard's Overall, and status
// thresholds at 80 (PASS) and 60 (NEEDS_IMPROVEMENT), below which the
// review FAILs and feeds the orchestrator's bounded retry loop.
func scoreReview(sc devpool.Scorecard) pipeline.ReviewReport {
	var issues []pipeline.ReviewIssue
	high := 0
	if sc.Accessibility < 70 {
		high++
		issues = append(issues, pipeline.ReviewIssue{
			File:           "solution.go",
			Severity:       pipeline.SeverityHigh,
			Description:    "accessibility score below threshold",
			Recommendation: "add accessibility attributes and re-run the review",
		})
	}
	if sc.CodeQuality < 70 {
		issues = append(issues, pipeline.ReviewIssue{
			File:           "solution.go",
			Severity:       pipeline.SeverityMedium,
			Description:    "code quality score below threshold",
			Recommendation: "simplify the implementation and add tests",
		})
	}

	status := pipeline.ReviewFail
	switch {
	case sc.Overall >= 80:
		status = pipeline.ReviewPass
	case sc.Overall >= 60:
		status = pipeline.ReviewNeedsImprovement
	}

	return pipeline.ReviewReport{
		OverallStatus:  status,
		CriticalIssues: sc.CriticalIssues,
		HighIssues:     high,
		OverallScore:   sc.Overall,
		Issues:         issues,
	}
}
