package throttle

// Fixed policy constants shared by every pipeline.
const (
	// Step is how much concurrency moves on sustained success or a
	// non-rate-limit error streak.
	Step = 5

	// ErrorThreshold is the number of consecutive non-rate-limit errors
	// that triggers a decrease.
	ErrorThreshold = 3
)

// Config holds bounds for an AdmissionController.
type Config struct {
	Initial          int `yaml:"initial"`           // starting level (default: Max)
	Min              int `yaml:"min"`               // lower bound (default: 1)
	Max              int `yaml:"max"`               // upper bound
	SuccessThreshold int `yaml:"success_threshold"` // successes required per increase
}

// IngestionConfig returns the defaults used by the sync pipeline.
func IngestionConfig() Config {
	return Config{
		Min:              1,
		Max:              50,
		SuccessThreshold: 20,
	}
}

// ClassificationConfig returns the defaults used by the classify pipeline.
func ClassificationConfig() Config {
	return Config{
		Min:              1,
		Max:              10,
		SuccessThreshold: 10,
	}
}

func (c Config) normalize() Config {
	if c.Min < 1 {
		c.Min = 1
	}
	if c.Max < c.Min {
		c.Max = c.Min
	}
	if c.Initial <= 0 {
		c.Initial = c.Max
	}
	if c.Initial < c.Min {
		c.Initial = c.Min
	}
	if c.Initial > c.Max {
		c.Initial = c.Max
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 1
	}
	return c
}
