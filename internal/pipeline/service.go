package pipeline

import (
	"context"

	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/repository"
)

// JobService はジョブAPIの参照系とトリガー・キャンセルをまとめたファサード。
// 書き込みはOrchestratorに委譲し、参照はリポジトリを直接読む。
type JobService struct {
	orch    *Orchestrator
	jobRepo repository.JobRepository
	logRepo repository.JobLogRepository
}

// NewJobService はJobServiceを生成する。
func NewJobService(orch *Orchestrator, jobRepo repository.JobRepository, logRepo repository.JobLogRepository) *JobService {
	return &JobService{
		orch:    orch,
		jobRepo: jobRepo,
		logRepo: logRepo,
	}
}

// Trigger はジョブを受理して非同期実行を開始する。
func (s *JobService) Trigger(ctx context.Context, sourceIDs []string, articlesPerSource int) (*model.Job, error) {
	return s.orch.Trigger(ctx, sourceIDs, articlesPerSource)
}

// Cancel は実行中のジョブにキャンセルを要求する。
func (s *JobService) Cancel(ctx context.Context, jobID string) error {
	return s.orch.Cancel(ctx, jobID)
}

// GetJob は指定IDのジョブを取得する。見つからない場合はJobNotFoundエラーを返す。
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.NewJobNotFoundError(jobID)
	}
	return job, nil
}

// ListJobs はジョブ一覧をtriggered_at降順で返す。
func (s *JobService) ListJobs(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error) {
	return s.jobRepo.List(ctx, status, limit, offset)
}

// ListJobLogs は指定ジョブのログをタイムスタンプ昇順で返す。
// ジョブが存在しない場合はJobNotFoundエラーを返す。
func (s *JobService) ListJobLogs(ctx context.Context, jobID string, limit, offset int) ([]*model.JobLogEntry, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.NewJobNotFoundError(jobID)
	}
	return s.logRepo.ListByJobID(ctx, jobID, limit, offset)
}
