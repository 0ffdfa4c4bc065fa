// Package pipeline runs one donation digest: fetch, snapshot, aggregate,
// render and mail, as a fixed sequence of steps over shared state.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/donation-tracker/internal/dataset"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/fiscal"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/pagecache"
	"github.com/dvloznov/donation-tracker/internal/report"
)

// PipelineStep represents a single step in the digest pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	RunID  string
	Window fiscal.Window

	Pages   []pagecache.PageFile
	Dataset *dataset.Dataset
	Gifts   []domain.Gift
	Report  *report.Report
	HTML    string

	// Archived lists the gs:// URIs written during the run.
	Archived []string
}

// NewState starts a run at now in loc.
func NewState(now time.Time, loc *time.Location) *PipelineState {
	return &PipelineState{
		RunID:  uuid.NewString(),
		Window: fiscal.WindowAt(now, loc),
	}
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps   []PipelineStep
	cleanup []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Finally registers steps that run after the main sequence whether it
// succeeded or not. Their errors are logged, never returned.
func (p *Pipeline) Finally(steps ...PipelineStep) *Pipeline {
	p.cleanup = append(p.cleanup, steps...)
	return p
}

// Execute runs all steps in the pipeline sequentially and stops at the
// first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	defer p.runCleanup(ctx, state)

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		log.Debug().Int("step", i+1).Str("name", stepName(step)).Msg("Running step")
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (p *Pipeline) runCleanup(ctx context.Context, state *PipelineState) {
	log := logger.FromContext(ctx)
	// Cleanup must run even when ctx is already cancelled.
	ctx = context.WithoutCancel(ctx)
	for _, step := range p.cleanup {
		if err := step.Execute(ctx, state); err != nil {
			log.Warn().Err(err).Str("name", stepName(step)).Msg("Cleanup step failed")
		}
	}
}

func stepName(step PipelineStep) string {
	return fmt.Sprintf("%T", step)
}
