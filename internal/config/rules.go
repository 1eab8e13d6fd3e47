package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PatternRules is an optional YAML document that extends the sensitive-data
// pattern set without touching the main JSON configuration. Operators tend to
// maintain detection patterns separately from engine settings.
type PatternRules struct {
	Version  string        `yaml:"version"`
	Patterns []PatternRule `yaml:"sensitive_patterns"`
}

// PatternRule is one additional sensitive-data detection rule.
type PatternRule struct {
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

// LoadPatternRules reads the YAML rules file and returns the valid regex
// patterns it contains. A missing file is not an error. Individual invalid
// patterns are skipped and reported via the returned slice of errors rather
// than aborting the load.
func LoadPatternRules(path string) ([]string, []error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read pattern rules %s: %w", path, err)}
	}

	var rules PatternRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, []error{fmt.Errorf("malformed pattern rules %s: %w", path, err)}
	}

	var patterns []string
	var problems []error
	for i, r := range rules.Patterns {
		if r.Regex == "" {
			problems = append(problems, fmt.Errorf("pattern rule %d has no regex", i))
			continue
		}
		if _, err := regexp.Compile(r.Regex); err != nil {
			problems = append(problems, fmt.Errorf("pattern rule %d (%s) has invalid regex: %w", i, r.Description, err))
			continue
		}
		patterns = append(patterns, r.Regex)
	}
	return patterns, problems
}
