package domain

import (
	"fmt"
	"sort"
)

// RejectionCode is one row of QA rejection reference data.
// ClientMessage and NextAction go to the submitting party; OpsMessage stays internal.
type RejectionCode struct {
	Code          string
	Category      string
	ClientMessage string
	OpsMessage    string
	NextAction    string
	IsRetryable   bool
}

// RejectionCodeTable is an immutable lookup built once at startup.
type RejectionCodeTable struct {
	byCode map[string]RejectionCode
}

// NewRejectionCodeTable indexes codes by Code. Empty or duplicate codes are an error.
func NewRejectionCodeTable(codes []RejectionCode) (*RejectionCodeTable, error) {
	byCode := make(map[string]RejectionCode, len(codes))
	for _, c := range codes {
		if c.Code == "" {
			return nil, fmt.Errorf("rejection code table: empty code")
		}
		if _, dup := byCode[c.Code]; dup {
			return nil, fmt.Errorf("rejection code table: duplicate code %q", c.Code)
		}
		byCode[c.Code] = c
	}
	return &RejectionCodeTable{byCode: byCode}, nil
}

// Lookup returns the code definition and whether it exists.
func (t *RejectionCodeTable) Lookup(code string) (RejectionCode, bool) {
	c, ok := t.byCode[code]
	return c, ok
}

// Len returns the number of codes.
func (t *RejectionCodeTable) Len() int { return len(t.byCode) }

// Codes returns a copy of all codes ordered by Code.
func (t *RejectionCodeTable) Codes() []RejectionCode {
	out := make([]RejectionCode, 0, len(t.byCode))
	for _, c := range t.byCode {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
