package condition

// Status is the per-account position in a boost's lifecycle.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusOffered  Status = "OFFERED"
	StatusUnlocked Status = "UNLOCKED"
	StatusPending  Status = "PENDING"
	StatusFailed   Status = "FAILED"
	StatusRevoked  Status = "REVOKED"
	StatusExpired  Status = "EXPIRED"
	StatusConsoled Status = "CONSOLED"
	StatusRedeemed Status = "REDEEMED"
)

// statusOrder fixes the machine's total order. Terminal statuses sit above
// PENDING; among terminals REDEEMED outranks CONSOLED outranks the
// failure-style endings, so a simultaneously activated win always beats
// an expiry.
var statusOrder = map[Status]int{
	StatusCreated:  0,
	StatusOffered:  1,
	StatusUnlocked: 2,
	StatusPending:  3,
	StatusFailed:   4,
	StatusRevoked:  5,
	StatusExpired:  6,
	StatusConsoled: 7,
	StatusRedeemed: 8,
}

func (s Status) Order() int {
	order, ok := statusOrder[s]
	if !ok {
		return -1
	}
	return order
}

func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// IsTerminal reports whether the status can never be left again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRedeemed, StatusConsoled, StatusExpired, StatusRevoked, StatusFailed:
		return true
	}
	return false
}
