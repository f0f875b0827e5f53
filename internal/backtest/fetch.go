package backtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"volna/internal/logger"
	"volna/internal/market"
	"volna/internal/scheduler"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// FetchParams 一次历史数据回补请求。
type FetchParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// FetchJob 回补任务进度。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Inserted  int64       `json:"inserted"`
	Message   string      `json:"message,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// FetchService 把远端历史 K 线回补进本地缓存。
// 对远端的请求做限速，任务本身并发受信号量约束。
type FetchService struct {
	store    *Store
	source   market.Source
	maxBatch int

	limiter *rate.Limiter
	sem     chan struct{}

	mu      sync.RWMutex
	jobs    map[string]*FetchJob
	baseCtx context.Context
}

type FetchConfig struct {
	Store           *Store
	Source          market.Source
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

func NewFetchService(cfg FetchConfig) (*FetchService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("fetch service requires store")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("fetch service requires source")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &FetchService{
		store:    cfg.Store,
		source:   cfg.Source,
		maxBatch: maxBatch,
		limiter:  rate.NewLimiter(perSec, maxBatch),
		sem:      make(chan struct{}, maxConcurrent),
		jobs:     make(map[string]*FetchJob),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，任务随宿主退出而取消。
func (s *FetchService) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// Submit 提交回补任务并立即返回，拉取在后台进行。
func (s *FetchService) Submit(params FetchParams) (FetchJob, error) {
	params.Symbol = strings.ToUpper(strings.TrimSpace(params.Symbol))
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol is required")
	}
	step, ok := scheduler.ParseIntervalDuration(params.Timeframe)
	if !ok {
		return FetchJob{}, fmt.Errorf("unsupported timeframe: %s", params.Timeframe)
	}
	start, end := scheduler.AlignRangeMs(params.Start, params.End, step)
	if start >= end {
		return FetchJob{}, fmt.Errorf("start/end do not form a range")
	}
	params.Start, params.End = start, end

	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("fetch job %s submitted: %s %s [%d,%d]", job.ID, params.Symbol, params.Timeframe, start, end)

	go s.run(job.ID, step.Milliseconds())
	return *job, nil
}

func (s *FetchService) run(jobID string, stepMs int64) {
	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		s.update(jobID, func(j *FetchJob) { j.Status = JobStatusFailed; j.Message = "service shutting down" })
		return
	}
	defer func() { <-s.sem }()

	var params FetchParams
	s.mu.RLock()
	if j, ok := s.jobs[jobID]; ok {
		params = j.Params
	}
	s.mu.RUnlock()

	s.update(jobID, func(j *FetchJob) { j.Status = JobStatusRunning })

	ctx := s.baseCtx
	cursor := params.Start
	for cursor <= params.End {
		if err := s.limiter.Wait(ctx); err != nil {
			s.update(jobID, func(j *FetchJob) { j.Status = JobStatusFailed; j.Message = err.Error() })
			return
		}
		remaining := int((params.End-cursor)/stepMs) + 1
		if remaining > s.maxBatch {
			remaining = s.maxBatch
		}
		batch, err := s.source.FetchRange(ctx, params.Symbol, params.Timeframe, cursor, params.End, remaining)
		if err != nil {
			s.update(jobID, func(j *FetchJob) {
				j.Status = JobStatusFailed
				j.Message = fmt.Sprintf("%s fetch failed: %v", s.source.Name(), err)
			})
			return
		}
		if len(batch) == 0 {
			break
		}
		inserted, err := s.store.InsertBars(ctx, params.Symbol, params.Timeframe, batch)
		if err != nil {
			s.update(jobID, func(j *FetchJob) { j.Status = JobStatusFailed; j.Message = "store write failed: " + err.Error() })
			return
		}
		cursor = batch[len(batch)-1].OpenTime + stepMs
		s.update(jobID, func(j *FetchJob) { j.Inserted += int64(inserted) })
	}
	s.update(jobID, func(j *FetchJob) { j.Status = JobStatusDone; j.Message = "fetch complete" })
	logger.Infof("fetch job %s done", jobID)
}

func (s *FetchService) update(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = time.Now()
	}
}

// Job 返回任务副本。
func (s *FetchService) Job(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if j, ok := s.jobs[id]; ok {
		return *j, true
	}
	return FetchJob{}, false
}

// Jobs 返回全部任务副本。
func (s *FetchService) Jobs() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}
