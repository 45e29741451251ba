package cache

import (
	"sort"
	"strings"
	"sync"
)

// IPSet is an in-memory set of blacklisted IP addresses.
// Entries are trimmed when stored; Contains is an exact string match on its argument.
type IPSet struct {
	mu  sync.RWMutex
	ips map[string]struct{}
}

// NewIPSet creates a set seeded with ips
func NewIPSet(ips ...string) *IPSet {
	s := &IPSet{ips: make(map[string]struct{}, len(ips))}
	s.Replace(ips)
	return s
}

// Contains reports whether ip is blacklisted
func (s *IPSet) Contains(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.ips[ip]
	return ok
}

// Replace swaps the whole set atomically
func (s *IPSet) Replace(ips []string) {
	next := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			next[ip] = struct{}{}
		}
	}

	s.mu.Lock()
	s.ips = next
	s.mu.Unlock()
}

// Len returns the number of addresses held
func (s *IPSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.ips)
}

// Members returns the addresses in sorted order
func (s *IPSet) Members() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ips))
	for ip := range s.ips {
		out = append(out, ip)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}
