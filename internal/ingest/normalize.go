// =============================================================================
// Billing Reconciler - Normalization Rules
// =============================================================================
//
// Billing exports are hand-edited: codes arrive with stray spaces, lower-case
// letters or a legacy prefix. Normalization rules from the configuration are
// applied column by column to every raw row before aggregation.
//
// EXAMPLE:
//   normalization_rules:
//     - field: "Codice"
//       actions:
//         - type: trim
//         - type: uppercase
//         - type: replace
//           find: " "
//           value: ""
//
// =============================================================================

package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/config"
)

// Normalizer applies configured actions to raw rows.
type Normalizer struct {
	rules []config.NormalizationRule

	// patterns caches compiled regex_replace patterns by source.
	patterns map[string]*regexp.Regexp
}

// NewNormalizer validates the rules and compiles their regular expressions.
func NewNormalizer(rules []config.NormalizationRule) (*Normalizer, error) {
	n := &Normalizer{
		rules:    rules,
		patterns: make(map[string]*regexp.Regexp),
	}

	for _, rule := range rules {
		for _, action := range rule.Actions {
			switch action.Type {
			case "trim", "uppercase", "lowercase", "prepend_string", "append_string",
				"replace", "remove_leading_zeros", "pad_zeros_to_length", "lookup",
				"if_empty_use_default":
			case "regex_replace":
				if _, ok := n.patterns[action.Find]; ok {
					continue
				}
				re, err := regexp.Compile(action.Find)
				if err != nil {
					return nil, fmt.Errorf("field %q: invalid regex pattern: %w", rule.Field, err)
				}
				n.patterns[action.Find] = re
			default:
				return nil, fmt.Errorf("field %q: unknown normalization type: %s", rule.Field, action.Type)
			}
		}
	}

	return n, nil
}

// Apply normalizes every row of the table in place.
func (n *Normalizer) Apply(table *Table) {
	for i := range table.Rows {
		n.ApplyRow(table.Rows[i].Values)
	}
}

// ApplyRow normalizes one row in place. Columns absent from the row are
// skipped.
func (n *Normalizer) ApplyRow(values map[string]string) {
	for _, rule := range n.rules {
		value, exists := values[rule.Field]
		if !exists {
			continue
		}
		for _, action := range rule.Actions {
			value = n.applyAction(value, action)
		}
		values[rule.Field] = value
	}
}

// applyAction applies a single normalization action. Actions are validated
// by NewNormalizer, so unknown types leave the value unchanged.
func (n *Normalizer) applyAction(value string, action config.NormalizationAction) string {
	switch action.Type {
	case "trim":
		return strings.TrimSpace(value)

	case "uppercase":
		return strings.ToUpper(value)

	case "lowercase":
		return strings.ToLower(value)

	case "prepend_string":
		return action.Value + value

	case "append_string":
		return value + action.Value

	case "replace":
		if action.Find == "" {
			return value
		}
		return strings.ReplaceAll(value, action.Find, action.Value)

	case "regex_replace":
		re := n.patterns[action.Find]
		if re == nil {
			return value
		}
		return re.ReplaceAllString(value, action.Value)

	case "remove_leading_zeros":
		// "00012345" -> "12345", "000" -> "0"
		result := strings.TrimLeft(value, "0")
		if result == "" && value != "" {
			return "0"
		}
		return result

	case "pad_zeros_to_length":
		target, err := strconv.Atoi(action.Value)
		if err != nil || target <= 0 || len(value) >= target {
			return value
		}
		return strings.Repeat("0", target-len(value)) + value

	case "lookup":
		if replacement, ok := action.LookupTable[value]; ok {
			return replacement
		}
		return value

	case "if_empty_use_default":
		if strings.TrimSpace(value) == "" {
			return action.Value
		}
		return value
	}

	return value
}
