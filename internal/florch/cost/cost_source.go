package cost

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type CostSource int

const (
	COMMUNICATION CostSource = iota
	ENERGY
)

func (c CostSource) String() string {
	switch c {
	case ENERGY:
		return "ENERGY"
	case COMMUNICATION:
		return "COMMUNICATION"
	default:
		return "UNKNOWN"
	}
}

func ParseCostSource(s string) (CostSource, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ENERGY":
		return ENERGY, nil
	case "COMMUNICATION", "":
		return COMMUNICATION, nil
	default:
		return COMMUNICATION, fmt.Errorf("invalid CostSource: %q", s)
	}
}

// Marshal as a JSON string: "ENERGY"/"COMMUNICATION"
func (c CostSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Accept either JSON strings ("ENERGY") or numbers (0/1)
func (c *CostSource) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		parsed, err := ParseCostSource(strings.Trim(string(b), `"`))
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	var i int
	if err := json.Unmarshal(b, &i); err != nil {
		return err
	}
	switch v := CostSource(i); v {
	case ENERGY, COMMUNICATION:
		*c = v
		return nil
	default:
		return fmt.Errorf("invalid CostSource numeric value: %d", i)
	}
}

func (c *CostSource) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseCostSource(node.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
