package chainfile

import (
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

// ParseVars builds chain variables from repeated key=value assignments and a
// shell-quoted line such as `name=Pip mood='very sleepy'`.
// The line is applied first, then the assignments; later values win.
func ParseVars(assignments []string, line string) (chain.Vars, error) {
	vars := chain.Vars{}

	if strings.TrimSpace(line) != "" {
		words, err := shellquote.Split(line)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse vars %q", line)
		}
		for _, word := range words {
			if err := setVar(vars, word); err != nil {
				return nil, err
			}
		}
	}

	for _, a := range assignments {
		if err := setVar(vars, a); err != nil {
			return nil, err
		}
	}
	return vars, nil
}

// setVar stores the value untyped; substitution renders exactly what was typed
func setVar(vars chain.Vars, assignment string) error {
	key, value, ok := strings.Cut(assignment, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("invalid variable %q", assignment),
			"use key=value")
	}
	vars[key] = value
	return nil
}

// Merge returns base overlaid with overrides; neither input is modified
func Merge(base, overrides chain.Vars) chain.Vars {
	merged := make(chain.Vars, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
