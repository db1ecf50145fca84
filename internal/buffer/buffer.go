// Package buffer coalesces inbound commands per room and flushes them on
// a size or time threshold.
package buffer

import (
	"sort"
	"sync"
	"time"

	"github.com/graphrelay/relay/internal/protocol"
	"github.com/graphrelay/relay/internal/scheduler"
)

type Config struct {
	BufferTimeMs int
	MaxBatchSize int
}

// FlushFunc receives the sorted command list for one flush.
type FlushFunc func(cmds []protocol.Command)

type CommandBuffer struct {
	mu        sync.Mutex
	cfg       Config
	cmds      []protocol.Command
	flush     FlushFunc
	scheduler *scheduler.Scheduler
	pending   *scheduler.Handle
}

func New(cfg Config, sched *scheduler.Scheduler, flush FlushFunc) *CommandBuffer {
	return &CommandBuffer{cfg: cfg, scheduler: sched, flush: flush}
}

// AddCommand appends c. It flushes immediately at MaxBatchSize, otherwise
// arms a one-shot BufferTimeMs timer if one is not already pending.
func (b *CommandBuffer) AddCommand(c protocol.Command) {
	b.mu.Lock()
	b.cmds = append(b.cmds, c)
	full := len(b.cmds) >= b.cfg.MaxBatchSize
	needsTimer := !full && b.pending == nil
	b.mu.Unlock()

	if full {
		b.Flush()
		return
	}
	if needsTimer {
		b.mu.Lock()
		if b.pending == nil {
			b.pending = b.scheduler.SafeTimeout("CommandBuffer.flush", b.Flush, time.Duration(b.cfg.BufferTimeMs)*time.Millisecond)
		}
		b.mu.Unlock()
	}
}

func (b *CommandBuffer) AddCommands(cs []protocol.Command) {
	for _, c := range cs {
		b.AddCommand(c)
	}
}

// Flush snapshots and clears the buffer, sorts by ascending timestamp
// (ties keep input order — sort.SliceStable), and invokes the callback.
// Flushing an empty buffer is a no-op.
func (b *CommandBuffer) Flush() {
	b.mu.Lock()
	cmds := b.cmds
	b.cmds = nil
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
	b.mu.Unlock()

	if len(cmds) == 0 {
		return
	}
	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].Timestamp < cmds[j].Timestamp
	})
	b.flush(cmds)
}

// Dispose clears the buffer without flushing.
func (b *CommandBuffer) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = nil
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
}
