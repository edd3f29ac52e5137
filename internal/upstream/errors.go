package upstream

import "fmt"

// UpstreamError reports a failed call to a third-party API. Status is the
// upstream HTTP status when one was received (0 for transport failures),
// and Timeout marks calls that exceeded their bound.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
	Timeout  bool
	Err      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: upstream call timed out", e.Provider)
	case e.Status != 0:
		return fmt.Sprintf("%s: upstream returned status %d", e.Provider, e.Status)
	default:
		return fmt.Sprintf("%s: upstream call failed: %v", e.Provider, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ConfigError reports a missing provider credential. It is distinct from
// UpstreamError so callers can tell "provider is down" from "server is
// misconfigured".
type ConfigError struct {
	Name string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Name)
}
