package pipeline

import (
	"encoding/json"
	"time"
)

// Stage names of the standard structure prediction pipeline. These key
// checkpoint records, so they must never change for in-flight jobs.
const (
	StageInputValidation     = "input_validation"
	StageEthicsCheck         = "ethics_check"
	StageSemanticRouting     = "semantic_routing"
	StageStructurePrediction = "structure_prediction"
	StageQualityAssessment   = "quality_assessment"
	StageRefinement          = "md_refinement"
	StageReportGeneration    = "report_generation"
)

// PredictionName is the registry name of the standard pipeline.
const PredictionName = "structure_prediction"

// PredictionFuncs carries the injected implementations for the standard
// pipeline. Every field is required.
type PredictionFuncs struct {
	Validate Func
	Ethics   Func
	Route    Func
	Predict  Func
	Assess   Func
	Refine   Func
	Report   Func
}

// Prediction builds the standard structure prediction pipeline. The MD
// refinement stage is gated: it runs only when the submission requests
// it, and gated-out runs do not count it toward progress or estimates.
func Prediction(funcs PredictionFuncs) Pipeline {
	return Pipeline{
		Name: PredictionName,
		Stages: []Stage{
			{Name: StageInputValidation, Estimate: 5 * time.Second, Run: funcs.Validate},
			{Name: StageEthicsCheck, Estimate: 10 * time.Second, Run: funcs.Ethics},
			{Name: StageSemanticRouting, Estimate: 3 * time.Second, Run: funcs.Route},
			{Name: StageStructurePrediction, Estimate: 300 * time.Second, Run: funcs.Predict},
			{Name: StageQualityAssessment, Estimate: 30 * time.Second, Run: funcs.Assess},
			{Name: StageRefinement, Estimate: 600 * time.Second, Gate: RefinementRequested, Run: funcs.Refine},
			{Name: StageReportGeneration, Estimate: 15 * time.Second, Run: funcs.Report},
		},
	}
}

// RefinementRequested reports whether the submission opted in to the MD
// refinement stage. Malformed input counts as opted out; the validation
// stage rejects it properly.
func RefinementRequested(input []byte) bool {
	var opts struct {
		MDRefinement bool `json:"md_refinement"`
	}
	if err := json.Unmarshal(input, &opts); err != nil {
		return false
	}
	return opts.MDRefinement
}
