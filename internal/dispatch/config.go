package dispatch

import "fmt"

// Config tunes matching. Zero values are replaced by defaults.
type Config struct {
	MaxDistanceKm    float64 `json:"max_distance_km"`
	Limit            int     `json:"limit"`
	NearCompletionKm float64 `json:"near_completion_km"`
	MaxActiveJobs    int     `json:"max_active_jobs"`
}

const (
	DefaultMaxDistanceKm    = 20.0
	DefaultLimit            = 10
	DefaultNearCompletionKm = 3.0
	DefaultMaxActiveJobs    = 2
)

func DefaultConfig() Config {
	c := Config{}
	c.SetDefaults()
	return c
}

func (c *Config) SetDefaults() {
	if c.MaxDistanceKm == 0 {
		c.MaxDistanceKm = DefaultMaxDistanceKm
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.NearCompletionKm == 0 {
		c.NearCompletionKm = DefaultNearCompletionKm
	}
	if c.MaxActiveJobs == 0 {
		c.MaxActiveJobs = DefaultMaxActiveJobs
	}
}

func (c Config) Validate() error {
	if c.MaxDistanceKm < 0 {
		return fmt.Errorf("dispatch: max_distance_km must be positive, got %v", c.MaxDistanceKm)
	}
	if c.Limit < 0 {
		return fmt.Errorf("dispatch: limit must be positive, got %d", c.Limit)
	}
	if c.NearCompletionKm < 0 {
		return fmt.Errorf("dispatch: near_completion_km must be positive, got %v", c.NearCompletionKm)
	}
	if c.MaxActiveJobs < 0 {
		return fmt.Errorf("dispatch: max_active_jobs must be positive, got %d", c.MaxActiveJobs)
	}
	return nil
}
