package rate

import "time"

// Declaration defines a provider's per-minute request budget and how it
// signals back-off.
type Declaration struct {
	provider      string
	perMinute     int
	retryHeader   string
	maxCooldown   time.Duration
	defaultPeriod time.Duration
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{
		provider:      name,
		retryHeader:   "Retry-After",
		maxCooldown:   10 * time.Minute,
		defaultPeriod: 5 * time.Second,
	}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPerMinute caps outgoing calls with a token bucket; 0 disables
// the cap.
func (d Declaration) MaxRequestsPerMinute(limit int) Declaration {
	d.perMinute = limit
	return d
}

// RetryHeader names the header that carries the back-off in seconds.
func (d Declaration) RetryHeader(name string) Declaration {
	d.retryHeader = name
	return d
}

// MaxCooldown bounds how long a single 429 may block calls.
func (d Declaration) MaxCooldown(limit time.Duration) Declaration {
	d.maxCooldown = limit
	return d
}
