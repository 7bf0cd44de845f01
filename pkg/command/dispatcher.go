package command

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/metrics"
)

// Dispatcher runs commands by name: lookup, privilege check, parse, validate,
// execute.
type Dispatcher struct {
	registry *Registry
	metrics  metrics.Collector
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, collector metrics.Collector, logger *slog.Logger) *Dispatcher {
	if collector == nil {
		collector = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, metrics: collector, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, principal Principal, name string, body json.RawMessage) (any, error) {
	cmd, ok := d.registry.Get(name)
	if !ok {
		return nil, dberrors.Newf(dberrors.ErrNotFound, "no such command %q", name)
	}
	if !principal.Allows(cmd.RequiredPrivileges()) {
		d.logger.Warn("command refused", "command", name, "principal", principal.Name)
		return nil, dberrors.Newf(dberrors.ErrUnauthorized, "%s is not authorized to run %s", principal.Name, name)
	}

	inv, err := cmd.Parse(body)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.ErrInvalidArgument, err, "parse "+name)
	}
	if err := inv.Validate(); err != nil {
		return nil, dberrors.Wrap(dberrors.ErrInvalidArgument, err, "validate "+name)
	}

	start := time.Now()
	res, err := inv.Execute(ctx)
	labels := map[string]string{"command": name}
	d.metrics.ObserveHistogram("command.duration_ms", labels, float64(time.Since(start).Milliseconds()))
	if err != nil {
		labels["kind"] = dberrors.KindOf(err).String()
		d.metrics.IncCounter("command.errors", labels, 1)
		d.logger.Info("command failed", "command", name, "principal", principal.Name, "error", err)
		return nil, err
	}
	d.metrics.IncCounter("command.calls", labels, 1)
	return res, nil
}
