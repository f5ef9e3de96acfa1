package machine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Bid is a numeric bid or Pass.
type Bid int

// Pass is the zero bid.
const Pass Bid = 0

// ShootThreshold is the lowest bid that requires taking every trick.
const ShootThreshold Bid = 12

var numericBids = []Bid{1, 2, 3, 4, 5, 6, 12, 24}

// Valid reports whether b is pass or one of the allowed numeric bids.
func (b Bid) Valid() bool {
	if b == Pass {
		return true
	}
	for _, n := range numericBids {
		if n == b {
			return true
		}
	}
	return false
}

// IsShoot reports whether b is a shoot bid.
func (b Bid) IsShoot() bool {
	return b >= ShootThreshold
}

// TricksNeeded is the number of tricks the bidding side must take.
func (b Bid) TricksNeeded() int {
	if b.IsShoot() {
		return 6
	}
	return int(b)
}

// Ceiling is the highest bid allowed over the current high bid.
func Ceiling(high Bid) Bid {
	switch {
	case high < 6:
		return 6
	case high < 12:
		return 12
	default:
		return 24
	}
}

// BidAllowed reports whether bid may follow the current high bid.
func BidAllowed(high, bid Bid) bool {
	if bid == Pass {
		return true
	}
	return bid.Valid() && bid > high && bid <= Ceiling(high)
}

func (b Bid) String() string {
	if b == Pass {
		return "pass"
	}
	return fmt.Sprintf("%d", int(b))
}

func (b Bid) MarshalJSON() ([]byte, error) {
	if b == Pass {
		return []byte(`"pass"`), nil
	}
	return json.Marshal(int(b))
}

func (b *Bid) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte(`"pass"`)) {
		*b = Pass
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid bid %s", data)
	}
	*b = Bid(n)
	return nil
}
