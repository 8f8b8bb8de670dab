package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version        string
	startTime      time.Time
	db             *gorm.DB
	recordingsPath string
	sessionState   func() string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithRecordingsPath sets the directory whose volume is reported.
func (h *HealthHandler) WithRecordingsPath(path string) *HealthHandler {
	h.recordingsPath = path
	return h
}

// WithSessionState sets the source of the session state component.
func (h *HealthHandler) WithSessionState(fn func() string) *HealthHandler {
	h.sessionState = fn
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness check.
type LivezInput struct{}

// LivezOutput is the output for the liveness check.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness check.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness check.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system and storage metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness check",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness check",
		Description: "Reports ready when the catalog database answers and the recordings volume is writable",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetLivez reports that the process is running.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the service can record and catalog.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Components = map[string]string{
		"database": h.getDatabaseHealth(ctx).Status,
		"storage":  h.getStorageHealth(ctx).Status,
	}
	out.Body.Status = "ready"
	for _, status := range out.Body.Components {
		if status != "ok" {
			out.Body.Status = "not_ready"
		}
	}
	return out, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)
	storage := h.getStorageHealth(ctx)
	session := "unknown"
	if h.sessionState != nil {
		session = h.sessionState()
	}

	status := "healthy"
	if dbHealth.Status == "error" || storage.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(ctx),
			Memory:        h.getMemoryInfo(ctx),
			Storage:       storage,
			Components: HealthComponents{
				Database: dbHealth,
				Session:  session,
			},
			Checks: map[string]string{
				"database": dbHealth.Status,
				"storage":  storage.Status,
			},
		},
	}, nil
}

func (h *HealthHandler) getCPUInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.AvgWithContext(ctx)
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}
	// Encoders run as ffmpeg child processes.
	if children, err := proc.ChildrenWithContext(ctx); err == nil {
		info.EncoderProcesses = len(children)
		for _, child := range children {
			if childMem, err := child.MemoryInfoWithContext(ctx); err == nil && childMem != nil {
				info.EncoderMemoryMB += float64(childMem.RSS) / 1024 / 1024
			}
		}
	}
	return info
}

func (h *HealthHandler) getStorageHealth(ctx context.Context) StorageHealth {
	health := StorageHealth{Status: "unknown", Path: h.recordingsPath}
	if h.recordingsPath == "" {
		return health
	}
	usage, err := disk.UsageWithContext(ctx, h.recordingsPath)
	if err != nil {
		health.Status = "error"
		return health
	}
	health.Status = "ok"
	health.TotalBytes = usage.Total
	health.FreeBytes = usage.Free
	health.Free = humanize.IBytes(usage.Free)
	health.UsedPercent = usage.UsedPercent
	return health
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok", ResponseTimeStatus: "healthy"}

	if h.db == nil {
		health.Status = "not_configured"
		return health
	}
	health.Driver = h.db.Dialector.Name()

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	} else if health.ResponseTimeMS > 100 {
		health.ResponseTimeStatus = "slow"
	}
	return health
}
