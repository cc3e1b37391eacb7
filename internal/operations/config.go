package operations

import (
	"time"
)

// Default executor settings
const (
	DefaultItemTimeout      = 2 * time.Minute
	DefaultInterItemRate    = 10 // items per second ceiling
	DefaultMaxConcurrent    = 8
	DefaultRetention        = 24 * time.Hour
	DefaultCleanupInterval  = time.Hour
	DefaultMaxErrorLength   = 512
	DefaultListLimit        = 50
	DefaultItemsPageLimit   = 100
)

// Config controls executor and orchestrator behavior
type Config struct {
	// ItemTimeout bounds each external collaborator call. Cancellation
	// latency is bounded by this value, not by the whole operation.
	ItemTimeout time.Duration `json:"item_timeout"`

	// InterItemRate caps items started per second to bound burst load
	// on downstream collaborators. Zero disables pacing.
	InterItemRate float64 `json:"inter_item_rate"`

	// MaxConcurrent bounds concurrently running executor loops
	MaxConcurrent int64 `json:"max_concurrent"`

	// Retention is how long terminal operations are kept before the
	// cleanup sweep removes them
	Retention time.Duration `json:"retention"`

	// CleanupInterval is the period of the background sweep
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// MaxErrorLength truncates recorded item error messages
	MaxErrorLength int `json:"max_error_length"`

	// ListDefaultLimit is the default page size for ListForUser
	ListDefaultLimit int `json:"list_default_limit"`
}

// NewConfig returns the default configuration
func NewConfig() *Config {
	return &Config{
		ItemTimeout:      DefaultItemTimeout,
		InterItemRate:    DefaultInterItemRate,
		MaxConcurrent:    DefaultMaxConcurrent,
		Retention:        DefaultRetention,
		CleanupInterval:  DefaultCleanupInterval,
		MaxErrorLength:   DefaultMaxErrorLength,
		ListDefaultLimit: DefaultListLimit,
	}
}
