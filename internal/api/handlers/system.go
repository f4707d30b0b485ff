package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemStats describes the host the controller runs on.
type SystemStats struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform,omitempty"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	Uptime        uint64  `json:"uptime"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskTotal     uint64  `json:"disk_total"`
	DiskUsed      uint64  `json:"disk_used"`
	DiskPercent   float64 `json:"disk_percent"`
	Goroutines    int     `json:"goroutines"`
	Version       string  `json:"version"`
	Timestamp     int64   `json:"timestamp"`
}

// SystemHandler reports host resource usage.
type SystemHandler struct {
	version  string
	diskPath string
	logger   *slog.Logger
}

// NewSystemHandler creates a new system handler. diskPath is the mount whose
// usage is reported, normally where the archive lives.
func NewSystemHandler(version, diskPath string, logger *slog.Logger) *SystemHandler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemHandler{version: version, diskPath: diskPath, logger: logger}
}

// Get handles GET /api/system.
func (h *SystemHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.collect(r.Context()))
}

// collect gathers what it can. A failing collector leaves its fields zero.
func (h *SystemHandler) collect(ctx context.Context) SystemStats {
	stats := SystemStats{
		OS:         runtime.GOOS,
		Goroutines: runtime.NumGoroutine(),
		Version:    h.version,
		Timestamp:  time.Now().Unix(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		stats.Hostname = info.Hostname
		stats.Platform = info.Platform
		stats.KernelVersion = info.KernelVersion
		stats.Uptime = info.Uptime
	} else {
		h.logger.Debug("host info unavailable", "error", err)
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	} else if err != nil {
		h.logger.Debug("cpu usage unavailable", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryTotal = vm.Total
		stats.MemoryUsed = vm.Used
		stats.MemoryPercent = vm.UsedPercent
	} else {
		h.logger.Debug("memory usage unavailable", "error", err)
	}

	if du, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		stats.DiskTotal = du.Total
		stats.DiskUsed = du.Used
		stats.DiskPercent = du.UsedPercent
	} else {
		h.logger.Debug("disk usage unavailable", "path", h.diskPath, "error", err)
	}

	return stats
}
