package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"volna/internal/gateway/notifier"
	"volna/internal/logger"
)

// ResultRepo 回测结果的持久化接口，由 store/sqlite 实现。
type ResultRepo interface {
	SaveResult(ctx context.Context, res *Result) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetResult(ctx context.Context, id string) (*Result, error)
}

// Simulator 管理异步回测任务：提交即返回，进度在内存，
// 完成后结果落库。
type Simulator struct {
	runner *Runner
	repo   ResultRepo
	note   notifier.TextNotifier
	sem    chan struct{}

	mu      sync.RWMutex
	runs    map[string]*Run
	results map[string]*Result
	sweeps  map[string]*SweepJob

	baseCtx context.Context
}

// SweepJob 参数扫描任务。
type SweepJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Request   SweepRequest `json:"request"`
	Cells     []SweepCell `json:"cells,omitempty"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func NewSimulator(runner *Runner, repo ResultRepo, maxConcurrent int) *Simulator {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Simulator{
		runner:  runner,
		repo:    repo,
		sem:     make(chan struct{}, maxConcurrent),
		runs:    make(map[string]*Run),
		results: make(map[string]*Result),
		sweeps:  make(map[string]*SweepJob),
		baseCtx: context.Background(),
	}
}

// SetContext 注入宿主 ctx。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SetNotifier 设置完成推送渠道。
func (s *Simulator) SetNotifier(n notifier.TextNotifier) {
	if n != nil {
		s.note = n
	}
}

// StartRun 提交一次回测，立即返回 pending 状态的 Run。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	if req.StartTS <= 0 || req.EndTS <= req.StartTS {
		return Run{}, fmt.Errorf("start/end do not form a range")
	}
	run := &Run{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Request:   req,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	logger.Infof("backtest run %s submitted: %d symbols [%d,%d]", run.ID, len(req.Symbols), req.StartTS, req.EndTS)

	go s.execute(run.ID, req)
	return *run, nil
}

func (s *Simulator) execute(id string, req RunRequest) {
	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		s.setStatus(id, RunStatusFailed, "service shutting down")
		return
	}
	defer func() { <-s.sem }()

	s.setStatus(id, RunStatusRunning, "")
	res, err := s.runner.Execute(s.baseCtx, req)
	if err != nil {
		s.setStatus(id, RunStatusFailed, err.Error())
		logger.Errorf("backtest run %s failed: %v", id, err)
		return
	}
	res.Run.ID = id

	s.mu.Lock()
	*s.runs[id] = res.Run
	s.results[id] = res
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveResult(s.baseCtx, res); err != nil {
			logger.Errorf("backtest run %s persisted failed: %v", id, err)
		}
	}
	logger.Infof("backtest run %s done: trades=%d return=%.2f%%", id, res.Run.Stats.Trades, res.Run.Stats.ReturnPct)
	s.notifyDone(id, res.Run.Stats)
}

func (s *Simulator) notifyDone(id string, st RunStats) {
	if s.note == nil {
		return
	}
	text := fmt.Sprintf("✅ 回测完成 %s\n交易 %d 笔（胜 %d 负 %d，胜率 %.1f%%）\n收益 %.2f%%，最大回撤 %.2f%%，期末余额 %.2f",
		id, st.Trades, st.Wins, st.Losses, st.WinRate, st.ReturnPct, st.MaxDrawdownPct, st.FinalBalance)
	if err := s.note.SendText(text); err != nil {
		logger.Warnf("backtest run %s notify failed: %v", id, err)
	}
}

// StartSweep 提交参数网格扫描。
func (s *Simulator) StartSweep(req SweepRequest) (SweepJob, error) {
	if len(req.StopLossMults) == 0 || len(req.TakeProfits) == 0 {
		return SweepJob{}, fmt.Errorf("sweep requires at least one multiplier per axis")
	}
	job := &SweepJob{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Request:   req,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.sweeps[job.ID] = job
	s.mu.Unlock()

	go func() {
		select {
		case s.sem <- struct{}{}:
		case <-s.baseCtx.Done():
			return
		}
		defer func() { <-s.sem }()

		s.mu.Lock()
		job.Status = RunStatusRunning
		s.mu.Unlock()

		cells, err := s.runner.Sweep(s.baseCtx, req)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			job.Status = RunStatusFailed
			job.Message = err.Error()
			return
		}
		job.Status = RunStatusDone
		job.Cells = cells
	}()
	return *job, nil
}

// Run 查询任务状态。
func (s *Simulator) Run(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.runs[id]; ok {
		return *r, true
	}
	return Run{}, false
}

// Result 取回完整结果；优先内存，其次落库数据。
func (s *Simulator) Result(ctx context.Context, id string) (*Result, error) {
	s.mu.RLock()
	res, ok := s.results[id]
	s.mu.RUnlock()
	if ok {
		return res, nil
	}
	if s.repo == nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return s.repo.GetResult(ctx, id)
}

// Sweep 查询扫描任务。
func (s *Simulator) Sweep(id string) (SweepJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if j, ok := s.sweeps[id]; ok {
		return *j, true
	}
	return SweepJob{}, false
}

// ListRuns 合并内存与落库的任务列表（落库优先，容量受 limit 限制）。
func (s *Simulator) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.repo != nil {
		return s.repo.ListRuns(ctx, limit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Simulator) setStatus(id, status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		r.Status = status
		r.Message = message
		if status == RunStatusDone || status == RunStatusFailed {
			r.CompletedAt = time.Now()
		}
	}
}
