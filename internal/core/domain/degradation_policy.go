package domain

import "strings"

// DegradationPolicyMode enumerates how token validation behaves when the
// session revocation cache cannot answer.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient falls back to the durable store when the revocation cache is cold or unavailable.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects validation whenever session liveness cannot be confirmed.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason captures the context for which a fallback decision is evaluated.
type DegradationReason string

const (
	// DegradationReasonCacheMiss indicates the revocation cache lacks an entry for the session.
	DegradationReasonCacheMiss DegradationReason = "cache_miss"
	// DegradationReasonCacheUnavailable denotes revocation cache lookups failed or timed out.
	DegradationReasonCacheUnavailable DegradationReason = "revocation_cache_unavailable"
	// DegradationReasonSessionLookupFailure denotes durable-store session lookups failed.
	DegradationReasonSessionLookupFailure DegradationReason = "session_lookup_failure"
)

// DegradationPolicy centralises how the engine responds when session liveness
// data is missing or stale during token verification.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// AllowsFallback determines if the policy permits consulting the durable store
// when the supplied reason occurs.
func (p DegradationPolicy) AllowsFallback(reason DegradationReason) bool {
	return !p.IsStrict()
}
