package query

// Decision is the outcome of Normalize for the search stage.
type Decision int

const (
	// UseCompound keeps the compound operator without minimumShouldMatch.
	UseCompound Decision = iota
	// UseCompoundMinShouldZero relaxes minimumShouldMatch to 0 for text only should clauses.
	UseCompoundMinShouldZero
	// UseCompoundMinShouldOne requires at least one should clause to match.
	UseCompoundMinShouldOne
	// UseWildcard replaces the compound operator with a match all wildcard.
	UseWildcard
)

func (d Decision) String() string {
	switch d {
	case UseCompound:
		return "compound"
	case UseCompoundMinShouldZero:
		return "compound(minimumShouldMatch=0)"
	case UseCompoundMinShouldOne:
		return "compound(minimumShouldMatch=1)"
	case UseWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// Normalize decides how the clause set is expressed in $search.
//
// With no clauses at all the compound operator is dropped for a wildcard
// match all. Any should clause sets minimumShouldMatch to 1, relaxed to 0
// only when every should clause is a text clause.
func Normalize(c ClauseSet) Decision {
	if c.Empty() {
		return UseWildcard
	}
	if len(c.Should) == 0 {
		return UseCompound
	}

	hasText, hasOther := false, false
	for _, clause := range c.Should {
		if isTextClause(clause) {
			hasText = true
		} else {
			hasOther = true
		}
	}

	if hasText && !hasOther {
		return UseCompoundMinShouldZero
	}
	return UseCompoundMinShouldOne
}

func isTextClause(c Clause) bool {
	v, ok := c["text"]
	return ok && v != nil
}
