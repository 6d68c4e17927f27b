package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxcollombin/mapserver-proxy/internal/core/cache"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache/keys"
)

// SchemaInvalidator drops cached schemas so the next request refetches
// them from the backend.
type SchemaInvalidator interface {
	Invalidate(collection string)
}

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	cache    cache.Interface
	schemas  SchemaInvalidator
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	Schemas  SchemaInvalidator
}

func New(cfg InvalidationConfig, c cache.Interface, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:     opts.Logger,
		cfg:     cfg,
		cache:   c,
		schemas: opts.Schemas,
		ms:      newMetricSet(opts.Register),
		ver:     newVersionDedupe(8192),
		assign:  map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.cache == nil {
		return errors.New("kafka runner: cache dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

// Readiness reports whether the consumer group has partitions assigned.
// A disabled runner is always ready.
func (r *Runner) Readiness() (bool, string) {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		return true, "invalidation disabled"
	}
	if !r.assigned.Load() {
		return false, "kafka partitions not assigned"
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	return true, fmt.Sprintf("kafka partitions assigned: %d", len(r.assign))
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var w WireEvent
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		return fmt.Errorf("decode: %w", err)
	}
	if w.Key == "" && w.Collection == "" {
		r.ms.msgs.WithLabelValues("error").Inc()
		return errors.New("event carries neither key nor collection")
	}

	err := r.apply(ctx, w)
	r.observe(w.Op, err, time.Since(start))
	return err
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}

func (r *Runner) apply(ctx context.Context, w WireEvent) error {
	if w.Key != "" {
		if !r.ver.shouldApply(w.Key, w.Version) {
			r.ms.apply.WithLabelValues("skip_version").Inc()
			return nil
		}
		if err := r.cache.Del(ctx, w.Key); err != nil {
			return fmt.Errorf("cache del %q: %w", w.Key, err)
		}
		r.ms.apply.WithLabelValues("delete").Inc()
		return nil
	}

	if !r.ver.shouldApply("collection:"+w.Collection, w.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		return nil
	}
	if err := r.cache.DelPrefix(ctx, keys.CollectionPrefix(w.Collection)); err != nil {
		return fmt.Errorf("cache del prefix %q: %w", w.Collection, err)
	}
	if r.schemas != nil {
		r.schemas.Invalidate(w.Collection)
	}
	r.ms.apply.WithLabelValues("delete_prefix").Inc()
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
