package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolSurfaces = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_surface_pool_surfaces",
			Help: "Número de surfaces no pool",
		},
		[]string{"pool"},
	)

	PoolHardwareReferenced = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_surface_pool_hardware_referenced",
			Help: "Surfaces que ainda seguram referências do driver",
		},
		[]string{"pool"},
	)

	PoolRendererVisible = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_surface_pool_renderer_visible",
			Help: "Surfaces em uso pelo renderer",
		},
		[]string{"pool"},
	)

	FramesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_frames_resolved_total",
			Help: "Frames entregues ao renderer por caminho (zero_copy, copy, upload)",
		},
		[]string{"pool", "path"},
	)

	ZeroCopyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_zero_copy_failures_total",
			Help: "Falhas de escrita zero-copy (desativam zero-copy no pool)",
		},
		[]string{"pool"},
	)

	AllocationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_allocation_failures_total",
			Help: "Falhas ao alocar ou preencher surfaces",
		},
		[]string{"pool"},
	)

	DescriptorRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_descriptor_rejections_total",
			Help: "Descritores rejeitados antes de chegar ao pool",
		},
		[]string{"pool", "reason"},
	)

	HardwareReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_hardware_releases_total",
			Help: "Liberações de referências do driver",
		},
		[]string{"pool"},
	)

	Anomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_anomalies_total",
			Help: "Reusos anômalos de surfaces ainda visíveis",
		},
		[]string{"pool", "kind"},
	)

	SurfacesTrimmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_trimmed_total",
			Help: "Surfaces ociosas destruídas por pressão de memória",
		},
		[]string{"pool"},
	)

	CapabilityState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_surface_capability_state",
			Help: "Estado das capabilities (0=unknown, 1=supported, 2=broken)",
		},
		[]string{"pool", "capability"},
	)

	ResolveLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_surface_resolve_latency_seconds",
			Help:    "Latência para resolver uma surface",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
		},
		[]string{"pool", "path"},
	)

	DiagnosticsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_surface_diagnostics_published_total",
			Help: "Eventos de diagnóstico publicados",
		},
		[]string{"event_type", "status"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_surface_circuit_breaker_state",
			Help: "Estado do circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_surface_worker_pool_queue_size",
			Help: "Tamanho atual da fila do worker pool",
		},
		[]string{"pool_name"},
	)

	PresentQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_surface_present_queue_size",
			Help: "Frames aguardando o renderer",
		},
		[]string{"pool"},
	)
)
