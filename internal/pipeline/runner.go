// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner triggers cycles for all configured accounts at a fixed interval.
// Accounts run sequentially within a tick; a failed account does not
// block the others.
type Runner struct {
	pipelines []*Pipeline
	interval  time.Duration
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewRunner creates a periodic runner over the given pipelines.
func NewRunner(pipelines []*Pipeline, interval time.Duration) *Runner {
	return &Runner{
		pipelines: pipelines,
		interval:  interval,
	}
}

// Start launches the polling loop. The first round runs immediately.
func (r *Runner) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		r.runAll(loopCtx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.runAll(loopCtx)
			}
		}
	}()

	slog.Info("periodic sync started",
		"accounts", len(r.pipelines),
		"interval", r.interval,
	)
}

func (r *Runner) runAll(ctx context.Context) {
	for _, p := range r.pipelines {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.RunCycle(ctx); err != nil {
			slog.Error("sync cycle failed",
				"account", p.accountID,
				"error", err,
			)
		}
	}
}

// Stop shuts down the polling loop and waits for the in-flight round.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
