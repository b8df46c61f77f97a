// Package matchmaker maps a free-text need to the core best placed to serve it.
package matchmaker

import "strings"

const (
	FlightControlCore = "engineering-flightcontrol-v1"
	PropulsionCore    = "engineering-propulsion-v1"
	CodeReviewCore    = "qa-codereview-v1"
)

type rule struct {
	keywords []string
	coreID   string
}

// Rules are evaluated in order; the first keyword hit wins.
var rules = []rule{
	{keywords: []string{"safety", "stability", "validate"}, coreID: FlightControlCore},
	{keywords: []string{"propulsion", "motor"}, coreID: PropulsionCore},
	{keywords: []string{"review", "qa", "security"}, coreID: CodeReviewCore},
}

// Matchmaker resolves needs with keyword rules.
type Matchmaker struct{}

// New returns a Matchmaker.
func New() *Matchmaker { return &Matchmaker{} }

// FindBestAgent returns the core id for need, or false when no rule matches.
func (*Matchmaker) FindBestAgent(need string) (string, bool) {
	lowered := strings.ToLower(need)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lowered, kw) {
				return r.coreID, true
			}
		}
	}
	return "", false
}
