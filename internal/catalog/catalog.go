// Package catalog holds the static registry of providers and their models.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"aidispatch/internal/core"

	"github.com/BurntSushi/toml"
	"github.com/bytedance/sonic"
)

// Catalog is an immutable, validated provider table. Provider order is the
// fallback priority order; model order within a provider is the model
// fallback order.
type Catalog struct {
	providers []core.Provider
	index     map[string]int
}

// Ranked is a (provider, model) pair produced by ranking. RPM is the
// effective per-minute limit of the pair.
type Ranked struct {
	Provider string     `json:"provider"`
	Model    core.Model `json:"model"`
	RPM      int        `json:"rpm"`
}

// Order selects how Rank sorts models.
type Order string

const (
	// OrderQuality sorts by quality, best first.
	OrderQuality Order = "quality"
	// OrderBalanced keeps high-quality models with a generous limit, free
	// ones first, then by limit.
	OrderBalanced Order = "balanced"
	// OrderFast keeps models with a generous limit, sorted by limit and speed.
	OrderFast Order = "fast"
)

// ErrUnknownOrder is returned by ParseOrder.
var ErrUnknownOrder = errors.New("unknown model order")

// ParseOrder maps a name to an Order. Empty means OrderQuality.
func ParseOrder(name string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(name))); o {
	case "":
		return OrderQuality, nil
	case OrderQuality, OrderBalanced, OrderFast:
		return o, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownOrder, name)
}

// File is the on-disk catalog layout shared by the JSON and TOML formats.
type File struct {
	Providers []core.Provider `json:"providers" toml:"providers"`
}

// New validates providers and builds a catalog from a private copy.
func New(providers []core.Provider) (*Catalog, error) {
	c := &Catalog{
		providers: cloneProviders(providers),
		index:     make(map[string]int, len(providers)),
	}
	if len(c.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers", core.ErrInvalidCatalog)
	}
	for i := range c.providers {
		p := &c.providers[i]
		if err := validateProvider(p); err != nil {
			return nil, err
		}
		if _, dup := c.index[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %q", core.ErrInvalidCatalog, p.Name)
		}
		c.index[p.Name] = i
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultProviders())
	if err != nil {
		panic(fmt.Sprintf("built-in catalog invalid: %v", err))
	}
	return c
}

// Load reads a catalog file. The format is chosen by extension: .toml for
// TOML, anything else is parsed as JSON.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from config, not user input
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := sonic.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return New(file.Providers)
}

// WithDefaults returns a copy where the named providers use a different
// default model. Unknown providers or models are rejected.
func (c *Catalog) WithDefaults(overrides map[string]string) (*Catalog, error) {
	providers := cloneProviders(c.providers)
	for name, model := range overrides {
		i, ok := c.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrUnknownProvider, name)
		}
		if _, ok := providers[i].Model(model); !ok {
			return nil, fmt.Errorf("%w: %s/%s", core.ErrUnknownModel, name, model)
		}
		providers[i].DefaultModel = model
	}
	return New(providers)
}

// Providers returns provider names in priority order.
func (c *Catalog) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name
	}
	return names
}

// Provider returns a copy of the named provider.
func (c *Catalog) Provider(name string) (core.Provider, bool) {
	i, ok := c.index[name]
	if !ok {
		return core.Provider{}, false
	}
	return cloneProviders(c.providers[i : i+1])[0], true
}

// Models returns the provider's models in catalog order.
func (c *Catalog) Models(provider string) []core.Model {
	i, ok := c.index[provider]
	if !ok {
		return nil
	}
	return slices.Clone(c.providers[i].Models)
}

// Model looks up one model of a provider.
func (c *Catalog) Model(provider, model string) (core.Model, bool) {
	i, ok := c.index[provider]
	if !ok {
		return core.Model{}, false
	}
	return c.providers[i].Model(model)
}

// DefaultModel returns the provider's default model, or "" if unknown.
func (c *Catalog) DefaultModel(provider string) string {
	i, ok := c.index[provider]
	if !ok {
		return ""
	}
	return c.providers[i].Default()
}

// Priority returns the provider's position in the fallback order, or -1.
func (c *Catalog) Priority(provider string) int {
	if i, ok := c.index[provider]; ok {
		return i
	}
	return -1
}

// Limit returns the requests-per-minute ceiling for a call. modelScoped is
// true when the model carries its own limit, which takes precedence over the
// provider default.
func (c *Catalog) Limit(provider, model string) (limit int, modelScoped bool) {
	i, ok := c.index[provider]
	if !ok {
		return core.DefaultProviderRPM, false
	}
	p := &c.providers[i]
	if m, ok := p.Model(model); ok && m.RPM > 0 {
		return m.RPM, true
	}
	if p.RPM > 0 {
		return p.RPM, false
	}
	return core.DefaultProviderRPM, false
}

// Rank returns every model carrying all the given capabilities, ordered by
// quality descending. Ties keep provider priority then declaration order.
func (c *Catalog) Rank(caps ...core.Capability) []Ranked {
	return c.RankBy(OrderQuality, caps...)
}

// RankBy returns the models carrying all the given capabilities that the
// order admits, sorted by it. Ties keep catalog order.
func (c *Catalog) RankBy(order Order, caps ...core.Capability) []Ranked {
	var out []Ranked
	for _, p := range c.providers {
		for _, m := range p.Models {
			if !hasAll(m, caps) {
				continue
			}
			r := Ranked{Provider: p.Name, Model: m}
			r.RPM, _ = c.Limit(p.Name, m.Name)
			if admits(order, r) {
				out = append(out, r)
			}
		}
	}

	switch order {
	case OrderBalanced:
		slices.SortStableFunc(out, func(a, b Ranked) int {
			if a.Model.Free != b.Model.Free {
				if a.Model.Free {
					return -1
				}
				return 1
			}
			return b.RPM - a.RPM
		})
	case OrderFast:
		slices.SortStableFunc(out, func(a, b Ranked) int {
			return fastScore(b) - fastScore(a)
		})
	default:
		slices.SortStableFunc(out, func(a, b Ranked) int {
			return b.Model.Quality - a.Model.Quality
		})
	}
	return out
}

func admits(order Order, r Ranked) bool {
	switch order {
	case OrderBalanced:
		return r.RPM >= core.RankMinRPM && r.Model.Quality >= core.BalancedMinQuality
	case OrderFast:
		return r.RPM >= core.RankMinRPM
	}
	return true
}

func fastScore(r Ranked) int {
	return r.RPM*2 + r.Model.SpeedOrDefault()
}

// Len returns the total number of (provider, model) pairs.
func (c *Catalog) Len() int {
	n := 0
	for _, p := range c.providers {
		n += len(p.Models)
	}
	return n
}

func hasAll(m core.Model, caps []core.Capability) bool {
	for _, want := range caps {
		if !m.HasCapability(want) {
			return false
		}
	}
	return true
}

func validateProvider(p *core.Provider) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: provider without name", core.ErrInvalidCatalog)
	}
	switch p.Protocol {
	case core.ProtocolOpenAI, core.ProtocolGemini:
	case "":
		p.Protocol = core.ProtocolOpenAI
	default:
		return fmt.Errorf("%w: provider %s has unsupported protocol %q", core.ErrInvalidCatalog, p.Name, p.Protocol)
	}
	if p.RPM < 0 {
		return fmt.Errorf("%w: provider %s has negative rpm", core.ErrInvalidCatalog, p.Name)
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("%w: provider %s has no models", core.ErrInvalidCatalog, p.Name)
	}

	seen := make(map[string]bool, len(p.Models))
	for _, m := range p.Models {
		switch {
		case strings.TrimSpace(m.Name) == "":
			return fmt.Errorf("%w: provider %s has a model without name", core.ErrInvalidCatalog, p.Name)
		case seen[m.Name]:
			return fmt.Errorf("%w: provider %s lists model %q twice", core.ErrInvalidCatalog, p.Name, m.Name)
		case m.RPM < 0:
			return fmt.Errorf("%w: model %s/%s has negative rpm", core.ErrInvalidCatalog, p.Name, m.Name)
		case m.Quality < 0 || m.Quality > 100:
			return fmt.Errorf("%w: model %s/%s quality %d out of range", core.ErrInvalidCatalog, p.Name, m.Name, m.Quality)
		}
		seen[m.Name] = true
	}

	if p.DefaultModel != "" && !seen[p.DefaultModel] {
		return fmt.Errorf("%w: provider %s default model %q not listed", core.ErrInvalidCatalog, p.Name, p.DefaultModel)
	}
	return nil
}

func cloneProviders(in []core.Provider) []core.Provider {
	out := make([]core.Provider, len(in))
	for i, p := range in {
		out[i] = p
		out[i].Models = make([]core.Model, len(p.Models))
		for j, m := range p.Models {
			out[i].Models[j] = m
			out[i].Models[j].Capabilities = slices.Clone(m.Capabilities)
		}
	}
	return out
}
