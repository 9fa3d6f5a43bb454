// Package memcontrol watches system memory and notifies registered callbacks
// when the pressure level changes. Surface memory (DMA-BUF, GBM) lives outside
// the Go heap, so levels are computed from system-wide usage.
package memcontrol

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/metrics"
)

type MemoryLevel int

const (
	MemoryNormal MemoryLevel = iota
	MemoryWarning
	MemoryCritical
	MemoryEmergency
)

func (ml MemoryLevel) String() string {
	switch ml {
	case MemoryNormal:
		return "NORMAL"
	case MemoryWarning:
		return "WARNING"
	case MemoryCritical:
		return "CRITICAL"
	case MemoryEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

type MemoryStats struct {
	UsedMB       uint64
	TotalMB      uint64
	HeapAllocMB  uint64
	NumGC        uint32
	UsagePercent float64
	Level        MemoryLevel
	Timestamp    time.Time
}

type ThresholdConfig struct {
	MaxMemoryMB      uint64
	WarningPercent   float64
	CriticalPercent  float64
	EmergencyPercent float64
	CheckInterval    time.Duration
	GCTriggerPercent float64
}

// Sampler returns the used and total system memory in bytes.
type Sampler func() (used, total uint64, err error)

// SystemSampler reads /proc/meminfo (or the platform equivalent) through gopsutil.
func SystemSampler() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Used, vm.Total, nil
}

func DefaultThresholds(maxMemoryMB uint64) ThresholdConfig {
	return ThresholdConfig{
		MaxMemoryMB:      maxMemoryMB,
		WarningPercent:   60.0,
		CriticalPercent:  75.0,
		EmergencyPercent: 85.0,
		CheckInterval:    2 * time.Second,
		GCTriggerPercent: 70.0,
	}
}

type Controller struct {
	mu              sync.RWMutex
	config          ThresholdConfig
	sample          Sampler
	currentLevel    MemoryLevel
	stats           MemoryStats
	callbacks       map[MemoryLevel][]func(MemoryStats)
	gcInProgress    bool
	lastGC          time.Time
	lastLevelChange time.Time
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewController creates a controller. A zero MaxMemoryMB means the total
// system memory reported by the sampler. A nil sampler uses SystemSampler.
func NewController(config ThresholdConfig, sample Sampler) *Controller {
	if sample == nil {
		sample = SystemSampler
	}
	if config.MaxMemoryMB == 0 {
		config.MaxMemoryMB = 512
		if _, total, err := sample(); err == nil && total > 0 {
			config.MaxMemoryMB = total / 1024 / 1024
		}
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		config:          config,
		sample:          sample,
		currentLevel:    MemoryNormal,
		callbacks:       make(map[MemoryLevel][]func(MemoryStats)),
		lastGC:          time.Now(),
		lastLevelChange: time.Now(),
		ctx:             ctx,
		cancel:          cancel,
	}

	logger.L().Infow("Memory Controller inicializado",
		"max_memory_mb", config.MaxMemoryMB,
		"warning_percent", config.WarningPercent,
		"critical_percent", config.CriticalPercent,
		"emergency_percent", config.EmergencyPercent)

	return c
}

func (c *Controller) Start() {
	go c.monitorLoop()
	logger.L().Info("Memory Controller iniciado")
}

func (c *Controller) Stop() {
	c.cancel()
	logger.L().Info("Memory Controller parado")
}

func (c *Controller) monitorLoop() {
	ticker := time.NewTicker(c.GetConfig().CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Poll()
		}
	}
}

// Poll samples memory once and acts on the resulting level.
func (c *Controller) Poll() MemoryStats {
	if err := c.updateStats(); err != nil {
		logger.L().Warnw("Falha ao ler memória do sistema", "error", err)
		return c.GetStats()
	}
	c.checkAndAct()
	return c.GetStats()
}

func (c *Controller) updateStats() error {
	used, total, err := c.sample()
	if err != nil {
		return err
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.mu.Lock()
	usedMB := used / 1024 / 1024
	usagePercent := (float64(usedMB) / float64(c.config.MaxMemoryMB)) * 100
	c.stats = MemoryStats{
		UsedMB:       usedMB,
		TotalMB:      total / 1024 / 1024,
		HeapAllocMB:  memStats.HeapAlloc / 1024 / 1024,
		NumGC:        memStats.NumGC,
		UsagePercent: usagePercent,
		Level:        c.determineLevel(usagePercent),
		Timestamp:    time.Now(),
	}
	stats := c.stats
	c.mu.Unlock()

	metrics.MemoryUsagePercent.Set(stats.UsagePercent)
	metrics.MemoryUsedMB.Set(float64(stats.UsedMB))
	return nil
}

func (c *Controller) determineLevel(usagePercent float64) MemoryLevel {
	switch {
	case usagePercent >= c.config.EmergencyPercent:
		return MemoryEmergency
	case usagePercent >= c.config.CriticalPercent:
		return MemoryCritical
	case usagePercent >= c.config.WarningPercent:
		return MemoryWarning
	default:
		return MemoryNormal
	}
}

func (c *Controller) checkAndAct() {
	c.mu.Lock()
	stats := c.stats
	oldLevel := c.currentLevel
	newLevel := stats.Level
	c.mu.Unlock()

	if newLevel != oldLevel {
		c.onLevelChange(oldLevel, newLevel, stats)
	}

	switch newLevel {
	case MemoryWarning:
		if c.shouldTriggerGC(stats) {
			c.triggerGC("warning level")
		}
	case MemoryCritical:
		c.triggerGC("critical level")
	case MemoryEmergency:
		c.triggerGC("emergency level")
		debug.FreeOSMemory()
	}
}

func (c *Controller) onLevelChange(old, new MemoryLevel, stats MemoryStats) {
	c.mu.Lock()
	c.currentLevel = new
	c.lastLevelChange = time.Now()
	c.mu.Unlock()

	metrics.MemoryLevel.Set(float64(new))
	logger.L().Warnw("Nível de memória alterado",
		"old_level", old,
		"new_level", new,
		"usage_percent", fmt.Sprintf("%.2f%%", stats.UsagePercent),
		"used_mb", stats.UsedMB,
		"heap_mb", stats.HeapAllocMB)

	c.notifyCallbacks(new, stats)
}

func (c *Controller) shouldTriggerGC(stats MemoryStats) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.gcInProgress {
		return false
	}
	if time.Since(c.lastGC) < 5*time.Second {
		return false
	}
	return stats.UsagePercent >= c.config.GCTriggerPercent
}

func (c *Controller) triggerGC(reason string) {
	c.mu.Lock()
	if c.gcInProgress {
		c.mu.Unlock()
		return
	}
	c.gcInProgress = true
	c.lastGC = time.Now()
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.gcInProgress = false
			c.mu.Unlock()
		}()

		start := time.Now()
		runtime.GC()
		metrics.MemoryGCCount.Inc()
		logger.L().Debugw("Coleta de lixo concluída", "reason", reason, "duration", time.Since(start))
	}()
}

func (c *Controller) GetStats() MemoryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Controller) GetLevel() MemoryLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLevel
}

// RegisterCallback runs callback (in its own goroutine) every time the
// controller enters level.
func (c *Controller) RegisterCallback(level MemoryLevel, callback func(MemoryStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[level] = append(c.callbacks[level], callback)
}

func (c *Controller) notifyCallbacks(level MemoryLevel, stats MemoryStats) {
	c.mu.RLock()
	callbacks := append([]func(MemoryStats){}, c.callbacks[level]...)
	c.mu.RUnlock()

	for _, cb := range callbacks {
		go cb(stats)
	}
}

func (c *Controller) GetConfig() ThresholdConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *Controller) UpdateConfig(config ThresholdConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
	logger.L().Infow("Configuração de memória atualizada",
		"max_memory_mb", config.MaxMemoryMB,
		"warning_percent", config.WarningPercent,
		"critical_percent", config.CriticalPercent)
}
