// Package storage opens the graph backend selected by configuration.
//
// Modes:
//   - memory: graph.MemoryBackend, nothing persists
//   - kv: storage/kvgraph over a NATS JetStream KV bucket
//   - sql: storage/sqlgraph over gorm (sqlite, postgres, mysql)
//
// All backends store one revisioned snapshot and commit with compare-and-swap,
// so several processes can share a kv or sql backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/sensorgraph/config"
	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/graph"
	"github.com/c360/sensorgraph/metric"
	"github.com/c360/sensorgraph/natsclient"
	"github.com/c360/sensorgraph/pkg/retry"
	"github.com/c360/sensorgraph/storage/kvgraph"
	"github.com/c360/sensorgraph/storage/sqlgraph"
)

// Handle is an open backend together with the connection it owns.
type Handle struct {
	Backend graph.Backend
	NATS    *natsclient.Client // set in kv mode
}

// Options carries the ambient dependencies handed to backends.
type Options struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics

	// ClientName identifies this process to the NATS server in kv mode.
	ClientName string

	// OnNATSStatus receives connection state changes in kv mode.
	OnNATSStatus func(natsclient.ConnectionStatus)
}

// Open connects the backend for cfg.Store.Mode.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Handle, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch cfg.Store.Mode {
	case config.StorageModeMemory:
		return &Handle{Backend: graph.NewMemoryBackend()}, nil

	case config.StorageModeKV:
		client, err := natsclient.NewClient(cfg.Store.URI, natsOptions(cfg, opts)...)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		backend, err := kvgraph.Open(ctx, client, cfg.Store.Bucket, cfg.Store.Key,
			kvgraph.WithLogger(opts.Logger.With("component", "kvgraph")))
		if err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}
		opts.Logger.Info("graph backend ready", "mode", cfg.Store.Mode, "bucket", cfg.Store.Bucket)
		return &Handle{Backend: backend, NATS: client}, nil

	case config.StorageModeSQL:
		backend, err := sqlgraph.Open(ctx, sqlgraph.Config{
			Driver:   cfg.Store.Driver,
			DSN:      cfg.Store.URI,
			Username: cfg.Store.Username,
			Password: cfg.Store.Password,
			Name:     cfg.Store.Key,
		})
		if err != nil {
			return nil, err
		}
		opts.Logger.Info("graph backend ready", "mode", cfg.Store.Mode, "driver", cfg.Store.Driver)
		return &Handle{Backend: backend}, nil

	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: store mode %q", errors.ErrInvalidConfig, cfg.Store.Mode),
			"storage", "Open", "select backend")
	}
}

func natsOptions(cfg *config.Config, opts Options) []natsclient.ClientOption {
	out := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithLogger(opts.Logger.With("component", "natsclient")),
		natsclient.WithMetrics(opts.Metrics),
	}
	if opts.ClientName != "" {
		out = append(out, natsclient.WithClientName(opts.ClientName))
	}
	if opts.OnNATSStatus != nil {
		out = append(out, natsclient.WithStatusHandler(opts.OnNATSStatus))
	}
	if cfg.NATS.Timeout > 0 {
		out = append(out, natsclient.WithTimeout(cfg.NATS.Timeout))
	}
	if cfg.Store.Username != "" || cfg.Store.Password != "" {
		out = append(out, natsclient.WithCredentials(cfg.Store.Username, cfg.Store.Password))
	}
	if cfg.NATS.Token != "" {
		out = append(out, natsclient.WithToken(cfg.NATS.Token))
	}
	return out
}

// RetryPolicy returns the unit of work retry budget for cfg, starting from
// errors.DefaultRetryPolicy.
func RetryPolicy(cfg config.StoreConfig) errors.RetryPolicy {
	rp := errors.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		rp.MaxRetries = cfg.MaxAttempts - 1
	}
	if cfg.RetryDelay > 0 {
		rp.InitialDelay = cfg.RetryDelay
		if rp.MaxDelay < rp.InitialDelay {
			rp.MaxDelay = rp.InitialDelay
		}
	}
	return rp
}

// RetryConfig returns the unit of work retry policy for cfg.
func RetryConfig(cfg config.StoreConfig) retry.Config {
	return RetryPolicy(cfg).ToRetryConfig()
}

// Close releases the backend and its connection.
func (h *Handle) Close(ctx context.Context) error {
	var errs []error
	if h.Backend != nil {
		if err := h.Backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.NATS != nil {
		if err := h.NATS.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(fmt.Errorf("%v", errs), "storage", "Close", "release backend")
	}
	return nil
}
