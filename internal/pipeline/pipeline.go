// Package pipeline runs the end-to-end flow: geocode ingestion, then
// warehouse consolidation. The ordering is explicit and gated — consolidation
// never runs over a staging state the ingestion step did not finish writing.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gtel-dmp/geopipe/internal/consolidate"
	"github.com/gtel-dmp/geopipe/internal/ingest"
	"github.com/gtel-dmp/geopipe/internal/model"
)

// StepStatus is the terminal state of one pipeline step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one step's outcome.
type StepResult struct {
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Duration int64      `json:"duration_ms"`
	Error    string     `json:"error,omitempty"`
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Steps        []StepResult        `json:"steps"`
	Ingest       model.BatchOutcome  `json:"ingest"`
	Consolidate  consolidate.Outcome `json:"consolidate"`
	Checks       []consolidate.CheckResult `json:"checks,omitempty"`
	ChecksPassed bool                `json:"checks_passed"`
}

// Ingester drains the unprocessed ward backlog.
type Ingester interface {
	RunAll(ctx context.Context, batchSize, maxBatches int) (model.BatchOutcome, error)
}

// Consolidator rebuilds the warehouse table and validates it.
type Consolidator interface {
	Run(ctx context.Context) (consolidate.Outcome, error)
	RunChecks(ctx context.Context) ([]consolidate.CheckResult, error)
}

// Pipeline wires the ingestion and consolidation steps.
type Pipeline struct {
	ingester     Ingester
	consolidator Consolidator
	batchSize    int
	maxBatches   int
}

// New creates a Pipeline.
func New(ing Ingester, cons Consolidator, batchSize, maxBatches int) *Pipeline {
	if batchSize <= 0 {
		batchSize = ingest.DefaultBatchSize
	}
	return &Pipeline{
		ingester:     ing,
		consolidator: cons,
		batchSize:    batchSize,
		maxBatches:   maxBatches,
	}
}

// Run executes ingestion, then consolidation, then the data-quality checks.
// A failed step fails the run and skips everything downstream; the partial
// Result still reports what each step did.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	result := &Result{}

	ingestErr := p.step(result, "geocode_ingest", func() error {
		outcome, err := p.ingester.RunAll(ctx, p.batchSize, p.maxBatches)
		result.Ingest = outcome
		return err
	})
	if ingestErr != nil {
		p.skip(result, "consolidate", "quality_checks")
		return result, eris.Wrap(ingestErr, "pipeline: geocode ingest")
	}

	consErr := p.step(result, "consolidate", func() error {
		outcome, err := p.consolidator.Run(ctx)
		result.Consolidate = outcome
		return err
	})
	if consErr != nil {
		p.skip(result, "quality_checks")
		return result, eris.Wrap(consErr, "pipeline: consolidate")
	}

	checksErr := p.step(result, "quality_checks", func() error {
		checks, err := p.consolidator.RunChecks(ctx)
		if err != nil {
			return err
		}
		result.Checks = checks
		result.ChecksPassed = true
		for _, check := range checks {
			if !check.Passed {
				result.ChecksPassed = false
				log.Warn("quality check failed",
					zap.String("check", check.Name),
					zap.Int64("violations", check.Violations),
				)
			}
		}
		return nil
	})
	if checksErr != nil {
		return result, eris.Wrap(checksErr, "pipeline: quality checks")
	}

	log.Info("pipeline complete",
		zap.Int("ingest_attempted", result.Ingest.Attempted),
		zap.Int64("consolidated", result.Consolidate.Consolidated),
		zap.Bool("checks_passed", result.ChecksPassed),
	)
	return result, nil
}

func (p *Pipeline) step(result *Result, name string, fn func() error) error {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("step", name))
	log.Info("step starting")

	start := time.Now()
	err := fn()
	step := StepResult{
		Name:     name,
		Status:   StepCompleted,
		Duration: time.Since(start).Milliseconds(),
	}
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		log.Error("step failed", zap.Int64("duration_ms", step.Duration), zap.Error(err))
	} else {
		log.Info("step completed", zap.Int64("duration_ms", step.Duration))
	}
	result.Steps = append(result.Steps, step)
	return err
}

func (p *Pipeline) skip(result *Result, names ...string) {
	for _, name := range names {
		result.Steps = append(result.Steps, StepResult{Name: name, Status: StepSkipped})
	}
}
