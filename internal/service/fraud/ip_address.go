package fraud

import (
	"fmt"
	"strings"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// IPAddressEvaluator checks the source address against the blacklist.
// Private-network detection is advisory and never sets the fraud flag.
type IPAddressEvaluator struct {
	blacklist Blacklist
}

// NewIPAddressEvaluator creates an IP evaluator backed by the given blacklist
func NewIPAddressEvaluator(blacklist Blacklist) *IPAddressEvaluator {
	return &IPAddressEvaluator{blacklist: blacklist}
}

func (e *IPAddressEvaluator) Kind() SignalKind {
	return SignalIPAddress
}

func (e *IPAddressEvaluator) Evaluate(req *transaction.Request) Signal {
	s := newSignal(SignalIPAddress)
	ip := req.IPAddress

	if e.blacklist.Contains(ip) {
		s.flag(
			"IP address is on the known fraudulent list",
			fmt.Sprintf("Flagged IP: %s", ip),
		)
	} else {
		s.note("IP address is not known to be fraudulent or malicious")
	}

	if isPrivateNetwork(ip) {
		s.note("IP address appears to be from a private network (potential VPN/proxy)")
	}

	return s.build()
}

// isPrivateNetwork is a textual prefix check, not a CIDR match
func isPrivateNetwork(ip string) bool {
	for _, prefix := range privateNetworkPrefixes {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}
