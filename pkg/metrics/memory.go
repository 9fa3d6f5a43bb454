package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MemoryUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_surface_memory_usage_percent",
		Help: "Porcentagem de uso de memória do sistema",
	})

	MemoryUsedMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_surface_memory_used_mb",
		Help: "Memória do sistema em uso, em megabytes",
	})

	MemoryLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_surface_memory_level",
		Help: "Nível de memória atual (0=Normal, 1=Warning, 2=Critical, 3=Emergency)",
	})

	MemoryGCCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_surface_memory_gc_total",
		Help: "Número total de coletas de lixo forçadas",
	})
)
