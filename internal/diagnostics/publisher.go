// Package diagnostics publishes pool events (capability changes, reuse
// anomalies, periodic status) to the message broker for fleet monitoring.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/T3-Labs/edge-surface/pkg/capability"
	"github.com/T3-Labs/edge-surface/pkg/circuit"
	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/metrics"
	"github.com/T3-Labs/edge-surface/pkg/mq"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
	"github.com/T3-Labs/edge-surface/pkg/util"
)

type EventType string

const (
	EventTypeCapabilityChange EventType = "capability_change"
	EventTypeAnomaly          EventType = "anomaly"
	EventTypePoolStatus       EventType = "pool_status"
)

// Envelope carries the fields shared by every event.
type Envelope struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Device    string    `json:"device"`
	Pool      string    `json:"pool"`
	Timestamp time.Time `json:"timestamp"`
}

type CapabilityChangeEvent struct {
	Envelope
	Capability string `json:"capability"`
	State      string `json:"state"`
}

type AnomalyEvent struct {
	Envelope
	Kind            string `json:"kind"`
	SurfaceID       uint32 `json:"surface_id"`
	DecoderBufferID int    `json:"decoder_buffer_id"`
}

type PoolStatusEvent struct {
	Envelope
	Surfaces           int     `json:"surfaces"`
	HardwareReferenced int     `json:"hardware_referenced"`
	RendererVisible    int     `json:"renderer_visible"`
	Keyed              int     `json:"keyed"`
	MaxHardwareSlots   int     `json:"max_hardware_slots"`
	FreeRatio          float64 `json:"free_ratio"`
	ZeroCopy           string  `json:"zero_copy"`
	TextureCreation    string  `json:"texture_creation"`
	HardwareReleases   int64   `json:"hardware_releases"`
}

// Publisher serializes events as JSON, optionally zstd-compressed, and sends
// them through an mq.Publisher keyed by event type.
type Publisher struct {
	transport  mq.Publisher
	compressor *util.Compressor
	breaker    *circuit.Breaker
	device     string
	enabled    bool
}

// NewPublisher creates a diagnostics publisher. A nil transport or enabled
// false turns every Publish* into a no-op. compressor may be nil.
func NewPublisher(transport mq.Publisher, compressor *util.Compressor, device string, enabled bool) *Publisher {
	return &Publisher{
		transport:  transport,
		compressor: compressor,
		device:     device,
		enabled:    enabled && transport != nil,
	}
}

// WithBreaker routes every publish through b, so a dead broker costs one
// rejected call instead of a full retry cycle per event.
func (p *Publisher) WithBreaker(b *circuit.Breaker) *Publisher {
	p.breaker = b
	return p
}

func (p *Publisher) Enabled() bool {
	return p.enabled
}

func (p *Publisher) envelope(t EventType, pool string) Envelope {
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: t,
		Device:    p.device,
		Pool:      pool,
		Timestamp: time.Now().UTC(),
	}
}

func (p *Publisher) PublishCapabilityChange(ctx context.Context, pool, name string, state capability.State) error {
	return p.publish(ctx, EventTypeCapabilityChange, CapabilityChangeEvent{
		Envelope:   p.envelope(EventTypeCapabilityChange, pool),
		Capability: name,
		State:      state.String(),
	})
}

func (p *Publisher) PublishAnomaly(ctx context.Context, a surfacepool.Anomaly) error {
	env := p.envelope(EventTypeAnomaly, a.Pool)
	if !a.Time.IsZero() {
		env.Timestamp = a.Time.UTC()
	}
	return p.publish(ctx, EventTypeAnomaly, AnomalyEvent{
		Envelope:        env,
		Kind:            string(a.Kind),
		SurfaceID:       a.SurfaceID,
		DecoderBufferID: a.DecoderBufferID,
	})
}

func (p *Publisher) PublishPoolStatus(ctx context.Context, st surfacepool.Stats) error {
	return p.publish(ctx, EventTypePoolStatus, PoolStatusEvent{
		Envelope:           p.envelope(EventTypePoolStatus, st.Name),
		Surfaces:           st.Surfaces,
		HardwareReferenced: st.HardwareReferenced,
		RendererVisible:    st.RendererVisible,
		Keyed:              st.Keyed,
		MaxHardwareSlots:   st.MaxHardwareSlots,
		FreeRatio:          st.FreeRatio,
		ZeroCopy:           st.ZeroCopy.String(),
		TextureCreation:    st.TextureCreation.String(),
		HardwareReleases:   st.HardwareReleases,
	})
}

func (p *Publisher) publish(ctx context.Context, t EventType, event interface{}) error {
	if !p.enabled {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		metrics.DiagnosticsPublished.WithLabelValues(string(t), "error").Inc()
		return err
	}
	if p.compressor != nil {
		body = p.compressor.Compress(body)
	}

	send := func() error { return p.transport.Publish(ctx, string(t), body) }
	if p.breaker != nil {
		err = p.breaker.Call(send)
	} else {
		err = send()
	}
	if errors.Is(err, circuit.ErrOpen) {
		metrics.DiagnosticsPublished.WithLabelValues(string(t), "circuit_open").Inc()
		return err
	}
	if err != nil {
		metrics.DiagnosticsPublished.WithLabelValues(string(t), "error").Inc()
		logger.L().Warnw("Falha ao publicar diagnóstico",
			"event_type", t,
			"device", p.device,
			"error", err)
		return err
	}
	metrics.DiagnosticsPublished.WithLabelValues(string(t), "success").Inc()
	return nil
}

func (p *Publisher) Close() error {
	if p.transport == nil {
		return nil
	}
	return p.transport.Close()
}
