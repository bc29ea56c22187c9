package job

import (
	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
)

// QualityGrade buckets a result's overall quality score.
type QualityGrade string

const (
	GradeExcellent  QualityGrade = "excellent"
	GradeGood       QualityGrade = "good"
	GradeAcceptable QualityGrade = "acceptable"
	GradePoor       QualityGrade = "poor"
)

// GradeForScore maps a quality score in [0, 1] to its grade bucket.
func GradeForScore(score float64) QualityGrade {
	switch {
	case score >= 0.9:
		return GradeExcellent
	case score >= 0.7:
		return GradeGood
	case score >= 0.5:
		return GradeAcceptable
	default:
		return GradePoor
	}
}

// Result is the final aggregate produced by a completed job. Exactly one
// result exists per completed job; it survives until the job is deleted.
type Result struct {
	rexsyn.Entity

	ID    id.ResultID `json:"id"`
	JobID id.JobID    `json:"job_id"`

	// Output is the pipeline's final payload, JSON-encoded.
	Output []byte `json:"output,omitempty"`

	QualityScore float64      `json:"quality_score"`
	Grade        QualityGrade `json:"grade"`
	Confidence   float64      `json:"confidence"`

	// PLDDT is the per-residue confidence mean reported by the structure
	// predictor. OVEScore is the overall validation estimate from the
	// quality assessment stage.
	PLDDT    float64 `json:"plddt,omitempty"`
	OVEScore float64 `json:"ove_score,omitempty"`

	RefinementApplied bool `json:"refinement_applied"`
}
