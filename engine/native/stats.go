package native

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/dmora/buildlog"
)

// ProcessStats samples the resource usage of the process with the given
// pid. Fields the OS refuses to report are left zero.
func ProcessStats(ctx context.Context, pid int) (buildlog.ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return buildlog.ProcessStats{}, fmt.Errorf("native: stats for pid %d: %w", pid, err)
	}

	stats := buildlog.ProcessStats{PID: pid}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = n
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		stats.CreateTime = time.UnixMilli(ms)
	}
	return stats, nil
}

// Stats samples the engine process behind sess. It fails once the session
// has ended or when sess does not expose a pid.
func Stats(ctx context.Context, sess buildlog.Session) (buildlog.ProcessStats, error) {
	withPid, ok := sess.(interface{ Pid() int })
	if !ok {
		return buildlog.ProcessStats{}, fmt.Errorf("native: session %s has no process id", sess.ID())
	}
	if sess.State().Terminal() {
		return buildlog.ProcessStats{}, fmt.Errorf("native: session %s: %w", sess.ID(), buildlog.ErrSessionDisposed)
	}
	return ProcessStats(ctx, withPid.Pid())
}
