package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats снимает показатели процесса сервера для /status:
// аптайм, память, CPU. Handle процесса открывается один раз при старте.
type ProcessStats struct {
	started time.Time
	proc    *process.Process
}

// NewProcessStats фиксирует момент старта и открывает handle процесса.
func NewProcessStats() *ProcessStats {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &ProcessStats{
		started: time.Now(),
		proc:    proc,
	}
}

// Uptime возвращает время работы в человекочитаемом виде.
func (ps *ProcessStats) Uptime() string {
	up := time.Since(ps.started)

	days := int(up.Hours()) / 24
	hours := int(up.Hours()) % 24
	minutes := int(up.Minutes()) % 60
	seconds := int(up.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// CPUPercent возвращает использование CPU процессом; при недоступности
// метрики процесса отдаёт системную.
func (ps *ProcessStats) CPUPercent() float64 {
	if ps.proc != nil {
		if pct, err := ps.proc.CPUPercent(); err == nil {
			return pct
		}
	}
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		return pcts[0]
	}
	return 0
}

// MemorySnapshot возвращает сводку памяти рантайма в мегабайтах.
func (ps *ProcessStats) MemorySnapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	const mb = 1024 * 1024
	return map[string]interface{}{
		"alloc_mb":       float64(m.Alloc) / mb,
		"total_alloc_mb": float64(m.TotalAlloc) / mb,
		"sys_mb":         float64(m.Sys) / mb,
		"heap_alloc_mb":  float64(m.HeapAlloc) / mb,
		"num_gc":         m.NumGC,
		"goroutines":     runtime.NumGoroutine(),
	}
}
