package correlation

import (
	"fmt"
	"time"

	"github.com/telhawk-systems/causeway/internal/models"
)

// Config holds the detector's strategy parameters and promotion thresholds.
type Config struct {
	// MinStrength is the combined strength a candidate group must reach to
	// be promoted to a finalized correlation.
	MinStrength float64

	// MinConfidence is the confidence a classified group must reach to be
	// emitted.
	MinConfidence float64

	Temporal   TemporalParams
	Similarity SimilarityParams
	Inherited  InheritedParams
	Causal     CausalParams
}

// TemporalParams parameters for the temporal proximity strategy
type TemporalParams struct {
	Enabled bool
	Weight  float64
	// Window is the boundary at which the proximity score decays to zero.
	Window time.Duration
}

// Validate validates TemporalParams
func (p *TemporalParams) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Window <= 0 {
		return fmt.Errorf("temporal window must be positive")
	}
	if p.Weight < 0 || p.Weight > 1 {
		return fmt.Errorf("temporal weight must be in [0,1]")
	}
	return nil
}

// SimilarityParams parameters for the tag similarity strategy
type SimilarityParams struct {
	Enabled bool
	Weight  float64
	// MinOverlap is the Jaccard overlap below which two events are not
	// considered related.
	MinOverlap float64
}

// Validate validates SimilarityParams
func (p *SimilarityParams) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.MinOverlap < 0 || p.MinOverlap > 1 {
		return fmt.Errorf("similarity min overlap must be in [0,1]")
	}
	if p.Weight < 0 || p.Weight > 1 {
		return fmt.Errorf("similarity weight must be in [0,1]")
	}
	return nil
}

// InheritedParams parameters for the inherited correlation id strategy
type InheritedParams struct {
	Enabled bool
	Weight  float64
}

// Validate validates InheritedParams
func (p *InheritedParams) Validate() error {
	if p.Enabled && (p.Weight < 0 || p.Weight > 1) {
		return fmt.Errorf("inherited weight must be in [0,1]")
	}
	return nil
}

// CausalParams parameters for the causal hint strategy
type CausalParams struct {
	Enabled bool
	Weight  float64
}

// Validate validates CausalParams
func (p *CausalParams) Validate() error {
	if p.Enabled && (p.Weight < 0 || p.Weight > 1) {
		return fmt.Errorf("causal weight must be in [0,1]")
	}
	return nil
}

// DefaultConfig returns the detector defaults: 5 minute temporal window,
// 0.8 promotion strength, all strategies enabled.
func DefaultConfig() Config {
	return Config{
		MinStrength:   0.8,
		MinConfidence: 0.5,
		Temporal: TemporalParams{
			Enabled: true,
			Weight:  1.0,
			Window:  5 * time.Minute,
		},
		Similarity: SimilarityParams{
			Enabled:    true,
			Weight:     0.8,
			MinOverlap: 0.3,
		},
		Inherited: InheritedParams{Enabled: true, Weight: 1.0},
		Causal:    CausalParams{Enabled: true, Weight: 1.0},
	}
}

// Validate validates the full detector configuration.
func (c *Config) Validate() error {
	if c.MinStrength < 0 || c.MinStrength > 1 {
		return fmt.Errorf("min strength must be in [0,1]")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0,1]")
	}
	if err := c.Temporal.Validate(); err != nil {
		return err
	}
	if err := c.Similarity.Validate(); err != nil {
		return err
	}
	if err := c.Inherited.Validate(); err != nil {
		return err
	}
	return c.Causal.Validate()
}

// Group pairs a candidate correlation with its member events so downstream
// stages can read parent hints and payload metrics without window lookups.
// Links holds the directed cause/effect pairs derived from explicit hints
// during detection.
type Group struct {
	Correlation *models.EventCorrelation
	Members     []*models.NormalizedEvent
	Links       []models.CausalLink
}

// Member returns the member event with the given identifier.
func (g *Group) Member(id string) (*models.NormalizedEvent, bool) {
	for _, ev := range g.Members {
		if ev.ID == id {
			return ev, true
		}
	}
	return nil, false
}
