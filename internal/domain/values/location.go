package values

import (
	"fmt"
	"strings"
)

// Location is a city/state pair as supplied by a customer or merchant.
// Comparison is case-insensitive; the supplied spelling is kept for evidence messages.
type Location struct {
	city  string
	state string
}

// NewLocation creates a Location value object
func NewLocation(city, state string) Location {
	return Location{city: city, state: state}
}

// City returns the city as supplied
func (l Location) City() string {
	return l.city
}

// State returns the state as supplied
func (l Location) State() string {
	return l.state
}

// Matches reports whether both city and state are equal ignoring case
func (l Location) Matches(other Location) bool {
	return strings.EqualFold(l.city, other.city) && strings.EqualFold(l.state, other.state)
}

// MatchesParts is Matches for callers holding raw strings
func (l Location) MatchesParts(city, state string) bool {
	return l.Matches(NewLocation(city, state))
}

// IsZero returns true when neither part is set
func (l Location) IsZero() bool {
	return l.city == "" && l.state == ""
}

// String formats as "City, ST"
func (l Location) String() string {
	return fmt.Sprintf("%s, %s", l.city, l.state)
}
