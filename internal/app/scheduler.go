package app

import (
	"context"
)

// StartScheduler launches the daily and weekly rebalance scheduler.
func (a *App) StartScheduler() {
	if a.schedulerCancel != nil {
		return
	}
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	a.schedulerCancel = schedulerCancel
	go a.Scheduler.Run(schedulerCtx)
}
