package core

// Capability is a tag describing what a model is good at.
type Capability string

const (
	CapText      Capability = "text"
	CapVision    Capability = "vision"
	CapCode      Capability = "code"
	CapReasoning Capability = "reasoning"
	CapImageGen  Capability = "image-gen"
)

// Model is one entry of a provider's model list.
// A non-zero RPM gives the model its own rate window instead of the provider's.
type Model struct {
	Name         string       `json:"name" toml:"name"`
	Label        string       `json:"label,omitempty" toml:"label"`
	RPM          int          `json:"rpm,omitempty" toml:"rpm"`
	Quality      int          `json:"quality" toml:"quality"`
	Speed        int          `json:"speed,omitempty" toml:"speed"`
	Free         bool         `json:"free" toml:"free"`
	Capabilities []Capability `json:"capabilities,omitempty" toml:"capabilities"`
}

// SpeedOrDefault returns the model's relative speed score.
func (m Model) SpeedOrDefault() int {
	if m.Speed <= 0 {
		return DefaultModelSpeed
	}
	return m.Speed
}

// HasCapability reports whether the model carries the given tag.
func (m Model) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Provider describes an upstream AI service and its ordered models.
// Models[0] is the default model for the provider unless DefaultModel is set.
type Provider struct {
	Name         string  `json:"name" toml:"name"`
	Label        string  `json:"label,omitempty" toml:"label"`
	Protocol     string  `json:"protocol" toml:"protocol"`
	BaseURL      string  `json:"base_url" toml:"base_url"`
	RPM          int     `json:"rpm" toml:"rpm"`
	DefaultModel string  `json:"default_model,omitempty" toml:"default_model"`
	Models       []Model `json:"models" toml:"models"`
}

// Model looks up a model by name.
func (p *Provider) Model(name string) (Model, bool) {
	for _, m := range p.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// Default returns the provider's default model name.
func (p *Provider) Default() string {
	if p.DefaultModel != "" {
		return p.DefaultModel
	}
	if len(p.Models) > 0 {
		return p.Models[0].Name
	}
	return ""
}
