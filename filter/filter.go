// Package filter selects unmapped alignment records by their FLAG bits.
package filter

import (
	"strconv"

	hts "github.com/biogo/hts/sam"
)

// Policy determines which alignment records are retained as unmapped.
type Policy int

const (
	// Strict keeps records where the read and its mate are both unmapped.
	Strict Policy = iota
	// Semi keeps records that are not part of a proper (concordant) pair.
	Semi
)

const (
	strictRequired = hts.Unmapped | hts.MateUnmapped // 0x4 | 0x8
	semiExcluded   = hts.ProperPair                  // 0x2
)

// String returns the name of the policy for logging.
func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Semi:
		return "semi"
	default:
		return "Policy(" + strconv.Itoa(int(p)) + ")"
	}
}

// Keep reports whether a record with flags f passes the policy. The decision
// is made on the single record; mates are never consulted.
func (p Policy) Keep(f hts.Flags) bool {
	if p == Semi {
		return f&semiExcluded == 0
	}
	return f&strictRequired == strictRequired
}

// SamtoolsArgs returns the 'samtools view' arguments that apply the same
// bit test as Keep: -f for required bits, -F for excluded bits.
func (p Policy) SamtoolsArgs() []string {
	if p == Semi {
		return []string{"-F", strconv.Itoa(int(semiExcluded))}
	}
	return []string{"-f", strconv.Itoa(int(strictRequired))}
}
