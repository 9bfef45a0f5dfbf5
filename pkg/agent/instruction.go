package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/agentlab/pkg/session"
)

var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_:]*)(\?)?\}`)

// InjectState replaces {key} in instruction with the state value for key.
// {key?} is replaced with an empty string when key is absent; an absent
// required key is an error. Braces that do not name a key are left as is.
func InjectState(instruction string, state session.State) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(instruction, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		key, optional := sub[1], sub[2] == "?"

		v, ok := state[key]
		if !ok {
			if !optional {
				missing = append(missing, key)
			}
			return ""
		}
		return formatValue(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("instruction references missing state keys: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case bool, int, int64, float64:
		return fmt.Sprint(val)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
