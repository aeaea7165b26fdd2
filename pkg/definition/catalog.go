package definition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Catalog holds built flows by name. It is safe for concurrent use.
type Catalog struct {
	builder *Builder

	mu    sync.RWMutex
	flows map[string]*Built
}

// NewCatalog creates an empty catalog that builds with b.
func NewCatalog(b *Builder) *Catalog {
	return &Catalog{builder: b, flows: make(map[string]*Built)}
}

// Builder returns the builder the catalog uses.
func (c *Catalog) Builder() *Builder { return c.builder }

// Add builds def and registers it under its name.
func (c *Catalog) Add(def *schema.FlowDefinition) (*Built, error) {
	built, err := c.builder.Build(def)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flows[def.Name]; ok {
		built.Close()
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "flow %q is already in the catalog", def.Name)
	}
	c.flows[def.Name] = built
	return built, nil
}

// LoadFile loads, builds and adds the definition at path.
func (c *Catalog) LoadFile(path string) (*Built, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	return c.Add(def)
}

// LoadDir adds every .yaml, .yml and .json definition directly under dir,
// in file name order. Files that fail do not stop the others; their errors
// are joined and prefixed with the file name.
func (c *Catalog) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read flows dir: %s", err).WithCause(err)
	}

	var (
		names []string
		errs  []error
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatOf(e.Name()); !ok {
			continue
		}
		built, err := c.LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		names = append(names, built.Name())
	}
	return names, errors.Join(errs...)
}

// Get returns the flow named name.
func (c *Catalog) Get(name string) (*Built, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.flows[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", name)
	}
	return b, nil
}

// List returns every flow, sorted by name.
func (c *Catalog) List() []*Built {
	c.mu.RLock()
	out := make([]*Built, 0, len(c.flows))
	for _, b := range c.flows {
		out = append(out, b)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Built) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	return out
}

// Run runs the named flow with input and waits for it to finish.
func (c *Catalog) Run(ctx context.Context, name string, input map[string]any) (*flow.Execution, error) {
	b, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	return b.Run(ctx, input), nil
}

// Close closes every flow in the catalog.
func (c *Catalog) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.flows {
		b.Close()
	}
}
