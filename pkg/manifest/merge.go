package manifest

// DeepMerge merges overlay into base and returns the result. Neither
// input is mutated.
//
// Rule: when both values under a key are JSON objects, recurse;
// otherwise the overlay value wins. Arrays are replaced wholesale;
// merging policy lists element-wise would make the effective policy
// depend on parent ordering, which is impossible to audit.
func DeepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		bm, baseIsMap := bv.(map[string]interface{})
		om, overlayIsMap := ov.(map[string]interface{})
		if baseIsMap && overlayIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = ov
	}
	return out
}
