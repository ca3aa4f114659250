package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/clients/ansible"
	"github.com/openmesa/openmesa/pkg/clients/openstack"
	"github.com/openmesa/openmesa/pkg/config"
	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// runtime bundles the wired components a workflow command needs.
type runtime struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	store   *stores.SQLiteStore
	engine  *orchestrator.Engine
}

// buildRuntime loads and validates the configuration and wires the full
// engine stack: store, cloud client, playbook runner, and telemetry.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(); err != nil {
		log.WithError(err).Warn("failed to start metrics server")
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	store, err := stores.NewSQLiteStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	cloud, err := openstack.NewClient(ctx, cfg.OpenStack, log, metrics)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create cloud client: %w", err)
	}
	runner := ansible.NewRunner(cfg.Ansible, log, metrics)

	engine := orchestrator.NewEngine(store, cloud, runner, orchestrator.Config{
		PollInterval:     cfg.Engine.PollInterval,
		PollAttempts:     cfg.Engine.PollAttempts,
		PreflightTimeout: cfg.Engine.PreflightTimeout,
	}, log, metrics, tracer)

	return &runtime{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		tracer:  tracer,
		store:   store,
		engine:  engine,
	}, nil
}

// Close flushes telemetry and releases the store.
func (r *runtime) Close(ctx context.Context) {
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.log.WithError(err).Warn("tracer shutdown failed")
	}
	if err := r.store.Close(); err != nil {
		r.log.WithError(err).Warn("store close failed")
	}
}

// openStore wires only the deployment store, for commands that never touch
// the cloud. Init and Migrate are idempotent.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	store, err := stores.NewSQLiteStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return store, nil
}

// parseDeploymentID parses the positional deployment id argument.
func parseDeploymentID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid deployment id %q: %w", arg, err)
	}
	return id, nil
}

// emitJSON prints v as indented JSON on stdout.
func emitJSON(v any) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(blob))
	return nil
}
