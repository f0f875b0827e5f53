// Package app 负责应用级编排：加载配置、装配依赖、启动服务。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"volna/internal/backtest"
	"volna/internal/config"
	"volna/internal/live"
	"volna/internal/logger"
	"volna/internal/store/sqlite"
)

// App 持有已装配的服务。HTTP 控制面始终运行，
// 实盘扫描循环按配置可选。
type App struct {
	cfg   *config.Config
	sim   *backtest.Simulator
	fetch *backtest.FetchService
	http  *backtest.HTTPServer
	live  *live.Service

	candleStore *backtest.Store
	resultStore *sqlite.ResultStore
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run 启动全部服务，阻塞直到 ctx 取消或某个服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	a.sim.SetContext(ctx)
	a.fetch.SetContext(ctx)
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("http control plane listening on %s", a.cfg.App.HTTPAddr)
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.live != nil {
		group.Go(func() error {
			logger.Infof("live scan loop starting (interval=%s)", a.cfg.Live.Interval)
			return a.live.Run(ctx)
		})
	}

	return group.Wait()
}

func (a *App) close() {
	if a.candleStore != nil {
		if err := a.candleStore.Close(); err != nil {
			logger.Warnf("closing candle store: %v", err)
		}
	}
	if a.resultStore != nil {
		if err := a.resultStore.Close(); err != nil {
			logger.Warnf("closing result store: %v", err)
		}
	}
}
