package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"orchestrator-core/internal/cache"
	"orchestrator-core/internal/execadapter"
	"orchestrator-core/internal/metrics"
	"orchestrator-core/internal/obslog"
	"orchestrator-core/internal/pipelineir"
	"orchestrator-core/internal/pstate"
	"orchestrator-core/internal/servicejob"
	"orchestrator-core/internal/snodecache"
	"orchestrator-core/internal/taskgen"
)

func newTickCommand() *cobra.Command {
	var pipelinePath string
	var statePath string
	var loop bool
	var exec bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one (or, with --loop, repeated) task-generation ticks over a pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pipelinePath == "" {
				return invalidInvocationf("--pipeline is required")
			}
			ac := fromContext(cmd.Context())

			if metricsAddr != "" {
				serveMetrics(metricsAddr)
			}

			store, err := openStore(ac.Config)
			if err != nil {
				return err
			}
			defer store.Close()

			stateDir := statePath
			if stateDir == "" {
				stateDir = ac.Config.Store.DSN + ".pstate"
			}
			pstateStore, err := pstate.NewFileStore(stateDir)
			if err != nil {
				return fmt.Errorf("tick: %w", err)
			}

			cacheCapacity := ac.Config.Cache.SuccessfulNodeCapacity
			if cacheCapacity <= 0 {
				cacheCapacity = 1024
			}
			successfulNodes, err := snodecache.NewLRUCache(cacheCapacity)
			if err != nil {
				return fmt.Errorf("tick: %w", err)
			}

			tracked := newTrackedTaskSet()
			gen := &taskgen.Generator{
				Store:           store,
				PState:          pstateStore,
				IsTaskTracked:   tracked.isTracked,
				ServiceManager:  servicejob.NewStaticManager(),
				SuccessfulNodes: successfulNodes,
				CacheEngine:     cache.NewEngine(store),
				Resolver:        &taskgen.ChannelResolver{Store: store},
				Logger:          ac.Logger,
			}

			adapter := execadapter.NewAdapter(".")

			interval := ac.Config.Tick.IntervalDuration()
			for {
				p, err := LoadPipeline(pipelinePath)
				if err != nil {
					return err
				}

				start := time.Now()
				tasks, err := gen.Generate(cmd.Context(), p)
				metrics.TickDuration.Observe(time.Since(start).Seconds())
				if err != nil {
					return fmt.Errorf("tick: generate: %w", err)
				}

				finalized := applyTick(cmd.Context(), tasks, tracked, p, pstateStore, adapter, exec, ac.Logger)

				out, err := MarshalTasks(tasks)
				if err != nil {
					return fmt.Errorf("tick: marshalling tasks: %w", err)
				}
				cmd.Println(string(out))

				if !loop || finalized {
					return nil
				}
				time.Sleep(interval)
			}
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "path to the pipeline IR JSON file")
	cmd.Flags().StringVar(&statePath, "state-dir", "", "directory for durable pipeline-state files (default: <store>.pstate)")
	cmd.Flags().BoolVar(&loop, "loop", false, "repeat ticks on the configured interval until the pipeline finalizes")
	cmd.Flags().BoolVar(&exec, "exec", false, "dispatch exec_node tasks to the local reference executor (run results are not written back)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// trackedTaskSet is the tick driver's in-memory stand-in for the external
// task queue's tracking predicate: a node is "tracked" from the moment its
// exec_node task is emitted until a terminal state update for it is
// observed.
type trackedTaskSet struct {
	ids map[string]bool
}

func newTrackedTaskSet() *trackedTaskSet {
	return &trackedTaskSet{ids: make(map[string]bool)}
}

func (t *trackedTaskSet) isTracked(taskID string) bool { return t.ids[taskID] }

func (t *trackedTaskSet) track(taskID string)   { t.ids[taskID] = true }
func (t *trackedTaskSet) untrack(taskID string) { delete(t.ids, taskID) }

// applyTick drives one tick's output to completion for the reference local
// executor: track newly emitted exec tasks, optionally dispatch them and
// apply resulting state via pstate, and untrack terminal nodes. Reports
// whether the pipeline finalized this tick.
func applyTick(ctx context.Context, tasks []taskgen.Task, tracked *trackedTaskSet, p *pipelineir.Pipeline, pstateStore pstate.Store, adapter *execadapter.Adapter, dispatch bool, logger obslog.TaskgenLogger) bool {
	finalized := false
	for _, t := range tasks {
		metrics.TasksEmittedTotal.WithLabelValues(kindName(t.Kind())).Inc()

		switch task := t.(type) {
		case taskgen.UpdateNodeStateTask:
			_ = pstateStore.SetNodeState(ctx, p.PipelineUID, task.NodeUID, task.NewState)
			if task.NewState.IsTerminal() {
				tracked.untrack(taskgen.ExecTaskID(p.PipelineUID, task.NodeUID))
			}
		case taskgen.ExecNodeTask:
			tracked.track(taskgen.ExecTaskID(p.PipelineUID, task.NodeUID))
			if dispatch {
				dispatchExecTask(ctx, adapter, p, task, logger)
			}
		case taskgen.FinalizePipelineTask:
			finalized = true
		}
	}
	return finalized
}

// dispatchExecTask runs a node's declared executor spec as a local
// subprocess; failures only get logged — feeding a failure back into the
// metadata store belongs to the external executor service this adapter
// stands in for, not the tick driver.
func dispatchExecTask(ctx context.Context, adapter *execadapter.Adapter, p *pipelineir.Pipeline, task taskgen.ExecNodeTask, logger obslog.TaskgenLogger) {
	packed, ok := p.ExecutorSpecFor(task.NodeUID)
	if !ok {
		return
	}
	spec := execadapter.CommandSpec{Command: string(packed.Value)}
	if _, err := adapter.Run(ctx, &task, spec); err != nil {
		logger.Warn(map[string]any{"node_id": task.NodeUID, "error": err.Error()}, "local exec dispatch failed")
	}
}
