// Command worker runs the leader-elected processor fleet: every
// configured outbox topic and view subscription, plus the admin HTTP
// surface, wired from config.yaml / environment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crabletlabs/dcbengine/internal/admin"
	"github.com/crabletlabs/dcbengine/internal/cache"
	"github.com/crabletlabs/dcbengine/internal/config"
	"github.com/crabletlabs/dcbengine/internal/telemetry"
	"github.com/crabletlabs/dcbengine/pkg/dcb"
	"github.com/crabletlabs/dcbengine/pkg/leader"
	"github.com/crabletlabs/dcbengine/pkg/outbox"
	"github.com/crabletlabs/dcbengine/pkg/processor"
	"github.com/crabletlabs/dcbengine/pkg/view"
)

func main() {
	log := telemetry.NewLogger()

	cfg, err := config.Load(envOr("CONFIG_FILE", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL not configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	defer pool.Close()

	metrics := telemetry.NewMetrics()

	store, err := dcb.NewEventStore(pool, dcb.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("constructing event store")
	}

	hostname, _ := os.Hostname()
	elector := leader.New(pool, hostname, leader.WithMetrics(metrics), leader.WithLogger(log))
	go func() {
		if err := elector.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("leader election loop exited")
		}
	}()

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis cache unavailable, falling back to direct reads")
	}

	manager := processor.NewManager(log)

	outboxStore := cache.NewCachedProgressStore(outbox.NewProgressStore(pool), redisClient, 5*time.Second)
	for name, topic := range cfg.Topics {
		filter := filterFromConfig(topic.Filter)
		var pub outbox.Publisher
		switch topic.Publisher {
		case "kafka":
			pub = outbox.NewKafkaPublisher([]string{envOr("KAFKA_BROKERS", "localhost:9092")})
		default:
			pub = outbox.NewMemoryPublisher()
		}
		sched := schedulingFromConfig(topic.Processor, outbox.DefaultScheduling(name))
		manager.Register(outbox.NewAdapter(outbox.TopicConfig{
			Name:          name,
			Filter:        filter,
			PublisherName: topic.Publisher,
			Scheduling:    sched,
		}, store, outboxStore, pub, elector, metrics, log))
	}

	viewStore := cache.NewCachedProgressStore(view.NewProgressStore(pool), redisClient, 5*time.Second)
	for name, v := range cfg.Views {
		filter := filterFromConfig(v.Filter)
		sched := schedulingFromConfig(v.Processor, outbox.DefaultScheduling("view:"+name))
		manager.Register(view.NewAdapter(view.Config{
			Name:      name,
			Filter:    filter,
			EntityKey: defaultEntityKey,
			Apply:     defaultApply,
			Scheduling: sched,
		}, store, pool, viewStore, elector, metrics, log))
	}

	adminSrv := admin.New(manager, store, elector, int64(cfg.LagAlertThreshold))
	httpSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminSrv}
	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin server failed")
		}
	}()

	go func() {
		if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("processor manager exited")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = elector.Close(shutdownCtx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func filterFromConfig(f config.TagFilter) dcb.Query {
	var preds []dcb.TagPredicate
	for _, k := range f.RequiredTags {
		preds = append(preds, dcb.KeyPresent(k))
	}
	if len(f.AnyOfTagKeys) > 0 {
		preds = append(preds, dcb.AnyOfKey(f.AnyOfTagKeys...))
	}
	for k, v := range f.ExactTags {
		preds = append(preds, dcb.Exact(k, v))
	}
	return dcb.NewQuery(dcb.NewQueryItem(f.EventTypes, preds...))
}

func schedulingFromConfig(p config.Processor, def processor.Config) processor.Config {
	sched := def
	if p.PollingIntervalMS > 0 {
		sched.PollingInterval = time.Duration(p.PollingIntervalMS) * time.Millisecond
	}
	if p.BatchSize > 0 {
		sched.BatchSize = p.BatchSize
	}
	if p.MaxConsecutiveErrors > 0 {
		sched.MaxConsecutiveErrors = p.MaxConsecutiveErrors
	}
	enabled, threshold, initial, max, factor := p.Backoff.BackoffDuration()
	sched.BackoffEnabled = enabled
	sched.BackoffThreshold = threshold
	if initial > 0 {
		sched.BackoffInitial = initial
	}
	if max > 0 {
		sched.BackoffMax = max
	}
	sched.BackoffFactor = factor
	return sched
}

// defaultEntityKey extracts the entity id from the first tag, the
// common convention for single-aggregate views.
func defaultEntityKey(e dcb.Event) string {
	if len(e.Tags) == 0 {
		return ""
	}
	return e.Tags[0].Value
}

// defaultApply folds events into a generic JSON document by merging
// the event's payload over the checkpoint's current fields, sufficient
// for views that project "last known state per entity" without custom
// reduction logic.
func defaultApply(current json.RawMessage, e dcb.Event) (json.RawMessage, error) {
	state := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &state); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
	}
	var payload map[string]any
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", err)
	}
	for k, v := range payload {
		state[k] = v
	}
	state["_last_event_type"] = e.Type
	return json.Marshal(state)
}
