package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionSignal carries a libinjection fingerprint for a candidate SQL
// string. It is a defense-in-depth signal only: it feeds the security
// auditor (pkg/audit) for SIEM visibility, and never overrides the
// Validator's own accept/reject decision.
type InjectionSignal struct {
	IsSQLi      bool
	Fingerprint string
}

// CheckQueryForInjection runs libinjection's fingerprinting heuristic over
// a full candidate statement. A positive match on a query that also passed
// Validate is expected to be rare (the validator's allowlist already
// constrains the shape); when it happens it is logged, not rejected.
func CheckQueryForInjection(candidate string) InjectionSignal {
	isSQLi, fingerprint := libinjection.IsSQLi(candidate)
	return InjectionSignal{IsSQLi: isSQLi, Fingerprint: string(fingerprint)}
}
