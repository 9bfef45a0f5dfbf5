package tool

// Policy defines which tools an agent can use
type Policy struct {
	Allow []string `json:"allow"` // allowed tools, * for all
	Deny  []string `json:"deny"`  // denied tools, overrides Allow
}

// IsAllowed reports whether the policy permits the tool. A nil policy
// allows everything.
func (p *Policy) IsAllowed(name string) bool {
	if p == nil {
		return true
	}
	for _, denied := range p.Deny {
		if denied == name || denied == "*" {
			return false
		}
	}
	for _, allowed := range p.Allow {
		if allowed == name || allowed == "*" {
			return true
		}
	}
	return false
}
