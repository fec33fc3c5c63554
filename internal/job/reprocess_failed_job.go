package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/libragent/internal/model"
	"go.uber.org/zap"
)

type FailedReprocessor interface {
	ReprocessFailed(ctx context.Context, groupID int64) ([]model.ProcessResult, error)
}

// ReprocessFailedJob retries ingestion of every failed document.
type ReprocessFailedJob struct {
	processor FailedReprocessor
}

func NewReprocessFailedJob(processor FailedReprocessor) *ReprocessFailedJob {
	return &ReprocessFailedJob{processor: processor}
}

func (j *ReprocessFailedJob) Name() string {
	return "reprocess_failed"
}

func (j *ReprocessFailedJob) Run(ctx context.Context) error {
	if j.processor == nil {
		return nil
	}
	results, err := j.processor.ReprocessFailed(ctx, 0)
	if err != nil {
		return err
	}
	recovered := 0
	for _, r := range results {
		if r.Success {
			recovered++
		}
	}
	logutil.GetLogger(ctx).Info("failed documents reprocessed",
		zap.Int("total", len(results)), zap.Int("recovered", recovered))
	return nil
}
