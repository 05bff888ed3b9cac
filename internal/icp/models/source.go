package models

// Source identifies which external provider reported a record.
type Source string

const (
	// SourceChinaz is the highest-trust provider.
	SourceChinaz Source = "chinaz"
	// SourceTianyancha fills gaps chinaz leaves; it never overwrites chinaz data.
	SourceTianyancha Source = "tianyancha"
)

// unknownPriority ranks any unrecognized source below every known provider.
const unknownPriority = 999

// Priority returns the fixed trust ordering; lower numeral means higher trust.
// The ordering is total and never depends on call recency.
func (s Source) Priority() int {
	switch s {
	case SourceChinaz:
		return 1
	case SourceTianyancha:
		return 2
	default:
		return unknownPriority
	}
}

// Outranks reports whether s is strictly higher trust than other. Equal trust
// does not outrank: an existing record keeps its data against a same-priority
// re-confirmation.
func (s Source) Outranks(other Source) bool {
	return s.Priority() < other.Priority()
}
