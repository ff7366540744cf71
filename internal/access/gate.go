// Package access decides whether the connected identity may use the owner
// console and implements that console's balance and withdraw actions.
package access

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Gate compares identities against the single privileged identity.
type Gate struct {
	owner common.Address
}

// NewGate creates a Gate for owner.
func NewGate(owner common.Address) *Gate {
	return &Gate{owner: owner}
}

// Owner returns the privileged identity.
func (g *Gate) Owner() common.Address {
	return g.owner
}

// IsPrivileged reports whether identity equals the privileged identity,
// ignoring case and surrounding whitespace.
func (g *Gate) IsPrivileged(identity string) bool {
	return strings.EqualFold(strings.TrimSpace(identity), g.owner.Hex())
}
