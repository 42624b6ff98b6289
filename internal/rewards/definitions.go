package rewards

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadDefinitionsFile reads the operator's reward definitions from a JSON
// file
func LoadDefinitionsFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var definitions []Definition
	if err := json.Unmarshal(data, &definitions); err != nil {
		return nil, fmt.Errorf("failed to parse rewards file: %w", err)
	}
	for _, def := range definitions {
		if def.Key == "" || def.Title == "" {
			return nil, fmt.Errorf("reward definitions require a key and a title")
		}
		if def.Cost <= 0 {
			return nil, fmt.Errorf("reward %q requires a positive cost", def.Key)
		}
	}
	return definitions, nil
}
