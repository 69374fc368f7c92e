package topics

import (
	"fmt"
	"sort"
	"sync"
)

// Definition is a named, documented topic descriptor, optionally paired with
// the descriptor its reply is addressed to.
type Definition struct {
	name        string
	description string
	topics      Descriptor
	response    *Descriptor
}

// Name returns the unique identifier of the definition.
func (d *Definition) Name() string { return d.name }

// Description returns human-readable documentation.
func (d *Definition) Description() string { return d.description }

// Topics returns the descriptor that addresses the message.
func (d *Definition) Topics() Descriptor { return d.topics }

// Response returns the reply descriptor, if the definition has one.
func (d *Definition) Response() (Descriptor, bool) {
	if d.response == nil {
		return Descriptor{}, false
	}
	return *d.response, true
}

// Encoded returns the canonical string of the message topics.
func (d *Definition) Encoded() string { return Encode(d.topics) }

// String returns the definition name for easy debugging.
func (d *Definition) String() string { return d.name }

// Catalog holds topic definitions by name and by canonical encoding.
type Catalog struct {
	mu        sync.RWMutex
	byName    map[string]*Definition
	byEncoded map[string]*Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName:    make(map[string]*Definition),
		byEncoded: make(map[string]*Definition),
	}
}

// Register adds a definition. Names must be unique.
func (c *Catalog) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("cannot register nil topic definition")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byName[def.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTopic, def.name)
	}
	c.byName[def.name] = def
	if _, exists := c.byEncoded[def.Encoded()]; !exists {
		c.byEncoded[def.Encoded()] = def
	}
	return nil
}

// MustRegister registers a definition and panics if registration fails.
func (c *Catalog) MustRegister(def *Definition) {
	if err := c.Register(def); err != nil {
		panic(fmt.Sprintf("failed to register topic: %v", err))
	}
}

// Get returns a definition by name.
func (c *Catalog) Get(name string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.byName[name]
	return def, ok
}

// Lookup returns the definition whose message topics encode like d.
func (c *Catalog) Lookup(d Descriptor) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.byEncoded[Encode(d)]
	return def, ok
}

// List returns all definitions ordered by name.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]*Definition, 0, len(c.byName))
	for _, def := range c.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].name < defs[j].name })
	return defs
}

// Count returns the number of registered definitions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byName)
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// Default returns the catalog preloaded with the broker's built-in topics.
func Default() *Catalog {
	defaultCatalogOnce.Do(func() {
		defaultCatalog = NewCatalog()
		for _, def := range Builtins() {
			defaultCatalog.MustRegister(def)
		}
	})
	return defaultCatalog
}
