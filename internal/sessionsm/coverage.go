package sessionsm

import "swarmcore.io/swarm/internal/domain"

// categorySubfields enumerates the subfields counted toward each
// category's coverage ratio (spec.md §4.C names the categories and
// weights but not their subfields; this enumeration is this package's
// own choice, not a wire contract the LLM adapter must match field-for-
// field — any subfield the reply omits simply counts as not yet filled).
var categorySubfields = map[string][]string{
	"project_type": {"type", "domain"},
	"tech_stack":   {"language", "framework", "database", "deployment_target"},
	"scale":        {"expected_users", "request_volume"},
	"features":     {"core_features", "integrations"},
	"constraints":  {"budget", "timeline", "compliance"},
}

// computeProgress recomputes coverage progress from gathered context,
// never trusting the LLM reply's own progress field (spec.md §4.C).
func computeProgress(gathered map[string]interface{}) int {
	var total float64
	for category, weight := range domain.CategoryWeights {
		total += float64(weight) * categoryRatio(gathered, category)
	}
	switch {
	case total > 100:
		return 100
	case total < 0:
		return 0
	default:
		return int(total + 0.5)
	}
}

func categoryRatio(gathered map[string]interface{}, category string) float64 {
	subfields := categorySubfields[category]
	if len(subfields) == 0 {
		return 0
	}
	raw, ok := gathered[category]
	if !ok {
		return 0
	}
	values, ok := raw.(map[string]interface{})
	if !ok {
		return 0
	}
	filled := 0
	for _, field := range subfields {
		if isFilled(values[field]) {
			filled++
		}
	}
	return float64(filled) / float64(len(subfields))
}

func isFilled(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// deepMerge merges src into a copy of dst, descending into nested maps
// so a category update never loses previously gathered keys (spec.md
// §4.C's "deep merge, never losing prior keys").
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	out := cloneMap(dst)
	for k, v := range src {
		existing, hasExisting := out[k]
		existingMap, existingIsMap := existing.(map[string]interface{})
		incomingMap, incomingIsMap := v.(map[string]interface{})
		if hasExisting && existingIsMap && incomingIsMap {
			out[k] = deepMerge(existingMap, incomingMap)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
