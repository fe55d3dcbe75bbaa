// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

// Remediation is one recovery action the controller may take.
type Remediation string

const (
	RemedyHotlink      Remediation = "hotlink_headers"
	RemedyProxy        Remediation = "proxy"
	RemedyVariant      Remediation = "variant_fallback"
	RemedyDowngrade    Remediation = "quality_downgrade"
	RemedySourceSwitch Remediation = "source_switch"
)

// Ledger records the remediations attempted for the current source so every
// retry path runs a bounded number of times. It is not safe for concurrent use.
type Ledger struct {
	attempts map[Remediation]int
	variants map[string]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		attempts: make(map[Remediation]int),
		variants: make(map[string]struct{}),
	}
}

// TryOnce marks r attempted and reports whether this is the first attempt.
func (l *Ledger) TryOnce(r Remediation) bool {
	return l.TryUpTo(r, 1)
}

// TryUpTo marks r attempted and reports whether fewer than limit attempts
// were made before.
func (l *Ledger) TryUpTo(r Remediation, limit int) bool {
	if l.attempts[r] >= limit {
		return false
	}
	l.attempts[r]++
	return true
}

// Attempts returns how often r was tried.
func (l *Ledger) Attempts(r Remediation) int { return l.attempts[r] }

// TryVariant marks uri as tried and reports whether it was untried.
func (l *Ledger) TryVariant(uri string) bool {
	if _, ok := l.variants[uri]; ok {
		return false
	}
	l.variants[uri] = struct{}{}
	return true
}

// Reset forgets everything. Called whenever the source is replaced.
func (l *Ledger) Reset() {
	clear(l.attempts)
	clear(l.variants)
}

// Snapshot returns a copy of the attempt counters.
func (l *Ledger) Snapshot() map[Remediation]int {
	out := make(map[Remediation]int, len(l.attempts))
	for k, v := range l.attempts {
		out[k] = v
	}
	return out
}
