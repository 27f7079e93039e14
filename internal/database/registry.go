package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"relmap/internal/config"
	"relmap/internal/logging"
)

// Registry holds every open connection of a configuration.
type Registry struct {
	defaultName string
	dbs         map[string]*DB
}

// OpenAll opens every configured connection in name order. On failure the
// connections already opened are closed.
func OpenAll(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Registry, error) {
	names := make([]string, 0, len(cfg.Connections))
	for name := range cfg.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := &Registry{defaultName: cfg.DefaultConnection, dbs: make(map[string]*DB, len(names))}
	inst := InstrumentationFrom(cfg.Observability)
	for _, name := range names {
		db, err := Open(ctx, name, cfg.Connections[name], inst, logger)
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
		reg.dbs[name] = db
	}
	return reg, nil
}

// NewRegistry wraps already opened connections.
func NewRegistry(defaultName string, dbs ...*DB) *Registry {
	reg := &Registry{defaultName: defaultName, dbs: make(map[string]*DB, len(dbs))}
	for _, db := range dbs {
		reg.dbs[db.Name] = db
	}
	return reg
}

// Get returns the named connection; "" selects the default.
func (r *Registry) Get(name string) (*DB, error) {
	if name == "" {
		name = r.defaultName
	}
	db, ok := r.dbs[name]
	if !ok {
		return nil, fmt.Errorf("connection %q is not configured", name)
	}
	return db, nil
}

// Names lists the open connections in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connection.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		errs = append(errs, r.dbs[name].Close())
	}
	return errors.Join(errs...)
}
