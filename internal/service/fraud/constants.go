package fraud

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction thresholds
var (
	// HighAmountThreshold flags amounts strictly greater than this
	HighAmountThreshold = decimal.NewFromInt(1000)

	// HighAveragePriceThreshold adds an informational note only
	HighAveragePriceThreshold = decimal.NewFromInt(500)
)

const (
	// HighItemCountThreshold flags item counts strictly greater than this
	HighItemCountThreshold = 10

	// VelocityThreshold is the number of recent transactions that triggers an alert
	VelocityThreshold = 3

	// VelocityWindow is the trailing window for the velocity check
	VelocityWindow = 10 * time.Minute
)

// DefaultBlacklistedIPs are the addresses known to be fraudulent out of the box
var DefaultBlacklistedIPs = []string{
	"192.168.1.100",
	"10.0.0.50",
	"172.16.0.200",
}

// privateNetworkPrefixes mark an address as possibly behind a VPN or proxy
var privateNetworkPrefixes = []string{"10.", "192.168.", "172."}
