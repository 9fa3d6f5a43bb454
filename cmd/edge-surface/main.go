package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/T3-Labs/edge-surface/internal/diagnostics"
	"github.com/T3-Labs/edge-surface/internal/storage"
	"github.com/T3-Labs/edge-surface/pkg/capability"
	"github.com/T3-Labs/edge-surface/pkg/circuit"
	"github.com/T3-Labs/edge-surface/pkg/config"
	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/memcontrol"
	"github.com/T3-Labs/edge-surface/pkg/mq"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
	"github.com/T3-Labs/edge-surface/pkg/util"
	"github.com/T3-Labs/edge-surface/pkg/worker"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Caminho para o arquivo de configuração")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("erro ao carregar config %s: %v", *configFile, err)
	}

	if err := logger.InitLogger(cfg.Development); err != nil {
		log.Fatalf("erro ao inicializar logger: %v", err)
	}
	defer logger.Sync()

	logger.Log.Infow("Configuração carregada",
		"config_file", *configFile,
		"device", cfg.Pool.Device,
		"max_hardware_slots", cfg.Pool.MaxHardwareSlots,
		"copy_threshold", cfg.Pool.CopyThreshold,
		"disable_zero_copy", cfg.Pool.DisableZeroCopy,
		"frame_interval", cfg.GetFrameInterval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Log.Info("Recebido sinal de finalização, encerrando...")
		cancel()
	}()

	go startMetricsServer(cfg.MetricsAddr)

	store := storage.NewCapabilityStore(storage.RedisOptions{
		Address:    cfg.Redis.Address,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		TTLSeconds: cfg.Redis.TTLSeconds,
		Prefix:     cfg.Redis.Prefix,
		Vhost:      cfg.ExtractVhostFromAMQP(),
		Enabled:    cfg.Redis.Enabled,
	})
	defer store.Close()

	diag := newDiagnostics(ctx, cfg)
	defer diag.Close()

	// Sem o ctx principal: eventos pendentes ainda saem durante o encerramento.
	workers := worker.NewPool(context.Background(), "diagnostics", cfg.Simulation.Workers, 64)
	defer workers.Close(5 * time.Second)

	zeroCopy := loadCapability(ctx, store, cfg.Pool.Device, surfacepool.CapabilityZeroCopy)
	textureCreation := loadCapability(ctx, store, cfg.Pool.Device, surfacepool.CapabilityTextureCreation)

	backend, err := newBackend()
	if err != nil {
		logger.Log.Fatalw("Erro ao criar backend de surfaces", "error", err)
	}

	var pool *surfacepool.Pool
	opts := cfg.PoolOptions(zeroCopy, textureCreation)
	opts.OnCapabilityChange = func(name string, state capability.State) {
		submit(workers, "capability-"+name, func(jobCtx context.Context) error {
			if err := store.Save(jobCtx, cfg.Pool.Device, name, state); err != nil {
				logger.Log.Warnw("Erro ao salvar capability no Redis", "capability", name, "error", err)
			}
			return diag.PublishCapabilityChange(jobCtx, pool.Name(), name, state)
		})
	}
	opts.OnAnomaly = func(a surfacepool.Anomaly) {
		submit(workers, "anomaly", func(jobCtx context.Context) error {
			return diag.PublishAnomaly(jobCtx, a)
		})
	}

	pool, err = surfacepool.New(backend, opts)
	if err != nil {
		logger.Log.Fatalw("Erro ao criar pool de surfaces", "error", err)
	}
	defer pool.Close()

	memory := memcontrol.NewController(cfg.MemoryThresholds(), memcontrol.SystemSampler)
	memory.RegisterCallback(memcontrol.MemoryCritical, func(stats memcontrol.MemoryStats) {
		released := pool.ReleaseUnusedHardwareFrames()
		logger.Log.Warnw("Memória crítica: liberando frames de hardware",
			"usage_percent", stats.UsagePercent,
			"released", released)
	})
	memory.RegisterCallback(memcontrol.MemoryEmergency, func(stats memcontrol.MemoryStats) {
		released := pool.ReleaseUnusedHardwareFrames()
		trimmed := pool.TrimFreeSurfaces()
		logger.Log.Errorw("Memória em emergência: descartando surfaces livres",
			"usage_percent", stats.UsagePercent,
			"released", released,
			"trimmed", trimmed)
	})
	memory.Start()
	defer memory.Stop()

	go reportStatus(ctx, cfg.StatusInterval(), pool, workers, diag)

	stats, err := runSimulation(ctx, cfg, pool)
	if err != nil && ctx.Err() == nil {
		logger.Log.Errorw("Simulação interrompida", "error", err, "stats", stats.String())
	}

	final := pool.Stats()
	submit(workers, "pool-status-final", func(jobCtx context.Context) error {
		return diag.PublishPoolStatus(jobCtx, final)
	})

	logger.Log.Infow("Aplicação finalizada",
		"stats", stats.String(),
		"pool_stats", final.String(),
		"workers", workers.Stats().String())
}

func newDiagnostics(ctx context.Context, cfg *config.Config) *diagnostics.Publisher {
	d := cfg.Diagnostics
	if !d.Enabled {
		return diagnostics.NewPublisher(nil, nil, cfg.Pool.Device, false)
	}

	var compressor *util.Compressor
	contentEncoding := ""
	if d.Compression.Enabled {
		c, err := util.NewCompressor(d.Compression.Level)
		if err != nil {
			logger.Log.Fatalw("Erro ao criar compressor", "error", err)
		}
		compressor = c
		contentEncoding = util.ContentEncoding
	}

	var transport mq.Publisher
	switch d.Protocol {
	case "mqtt":
		clientID := "edge-surface-" + uuid.New().String()[:8]
		p, err := mq.NewMQTTPublisher(d.MQTT.Broker, clientID, d.MQTT.TopicPrefix, d.MQTT.QoS)
		if err != nil {
			logger.Log.Errorw("Erro ao criar mqtt publisher, diagnósticos desativados", "error", err)
			return diagnostics.NewPublisher(nil, nil, cfg.Pool.Device, false)
		}
		transport = p
	default:
		p, err := mq.NewAMQPPublisher(ctx, d.AMQP.AmqpURL, d.AMQP.Exchange, d.AMQP.RoutingKeyPrefix, mq.AMQPOptions{
			MaxRetries:      3,
			RetryDelay:      time.Second,
			ContentType:     "application/json",
			ContentEncoding: contentEncoding,
		})
		if err != nil {
			logger.Log.Errorw("Erro ao criar amqp publisher, diagnósticos desativados", "error", err)
			return diagnostics.NewPublisher(nil, nil, cfg.Pool.Device, false)
		}
		transport = p
	}

	breaker := circuit.NewBreaker("diagnostics-"+d.Protocol, cfg.BreakerOptions())
	return diagnostics.NewPublisher(transport, compressor, cfg.Pool.Device, true).WithBreaker(breaker)
}

func loadCapability(ctx context.Context, store *storage.CapabilityStore, device, name string) capability.State {
	state, err := store.Load(ctx, device, name)
	if err != nil {
		logger.Log.Warnw("Erro ao ler capability do Redis", "capability", name, "error", err)
		return capability.StateUnknown
	}
	if state != capability.StateUnknown {
		logger.Log.Infow("Capability restaurada do cache", "capability", name, "state", state)
	}
	return state
}

func submit(workers *worker.Pool, id string, fn func(ctx context.Context) error) {
	if err := workers.Submit(worker.Func(id, fn)); err != nil {
		logger.Log.Warnw("Job de diagnóstico descartado", "job_id", id, "error", err)
	}
}

func reportStatus(ctx context.Context, interval time.Duration, pool *surfacepool.Pool, workers *worker.Pool, diag *diagnostics.Publisher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pool.Stats()
			if st.Closed {
				return
			}
			logger.Log.Infow("Pool stats",
				"pool_stats", st.String(),
				"workers", workers.Stats().String())
			submit(workers, "pool-status", func(jobCtx context.Context) error {
				return diag.PublishPoolStatus(jobCtx, st)
			})
		}
	}
}

func startMetricsServer(addr string) {
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())

	logger.Log.Infow("Servidor de métricas iniciado", "address", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Log.Errorw("Erro no servidor de métricas", "error", err)
	}
}
