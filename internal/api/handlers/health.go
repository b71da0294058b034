package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

// HealthChecker is implemented by the database and Redis clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	checks  map[string]HealthChecker
	version string
	timeout time.Duration
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Memory    *MemoryStats      `json:"memory,omitempty"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

type MemoryStats struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// NewHealthHandler creates a health handler. Checks with a nil checker are reported as disabled.
func NewHealthHandler(checks map[string]HealthChecker, version string) *HealthHandler {
	return &HealthHandler{checks: checks, version: version, timeout: 5 * time.Second}
}

// HealthCheck reports dependency status. Any failing dependency makes the service unhealthy.
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make(map[string]string, len(names))
	overallStatus := "healthy"
	for _, name := range names {
		checker := h.checks[name]
		if checker == nil {
			services[name] = "disabled"
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
			continue
		}
		services[name] = "healthy"
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		response.Memory = &MemoryStats{TotalBytes: vm.Total, UsedBytes: vm.Used, UsedPercent: vm.UsedPercent}
	}

	status := http.StatusOK
	if overallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}
