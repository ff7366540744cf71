package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ShortAddress abbreviates an address as 0x1234...abcd.
func ShortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// TimeAgo renders the age of ts relative to now in the coarsest whole unit.
func TimeAgo(ts, now time.Time) string {
	d := now.Sub(ts)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// ExplorerTxURL links a transaction on the block explorer at base.
func ExplorerTxURL(base string, tx common.Hash) string {
	return strings.TrimRight(base, "/") + "/tx/" + tx.Hex()
}
