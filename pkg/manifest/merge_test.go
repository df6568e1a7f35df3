package manifest

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestDeepMergeOverlayWins(t *testing.T) {
	base := map[string]interface{}{
		"version": "1.0.0",
		"operations": map[string]interface{}{
			"read_file": map[string]interface{}{"risk_level": 0.1},
		},
	}
	overlay := map[string]interface{}{
		"operations": map[string]interface{}{
			"read_file": map[string]interface{}{"risk_level": 0.05},
		},
	}

	merged := DeepMerge(base, overlay)
	ops := merged["operations"].(map[string]interface{})
	rf := ops["read_file"].(map[string]interface{})
	assert.Equal(t, 0.05, rf["risk_level"])
	assert.Equal(t, "1.0.0", merged["version"], "untouched base keys survive")
}

func TestDeepMergeScalarReplacesMap(t *testing.T) {
	base := map[string]interface{}{"k": map[string]interface{}{"nested": true}}
	overlay := map[string]interface{}{"k": "flat"}
	merged := DeepMerge(base, overlay)
	assert.Equal(t, "flat", merged["k"])
}

func TestDeepMergeArraysReplaced(t *testing.T) {
	base := map[string]interface{}{"checks": []interface{}{"audit"}}
	overlay := map[string]interface{}{"checks": []interface{}{"rbac"}}
	merged := DeepMerge(base, overlay)
	assert.Equal(t, []interface{}{"rbac"}, merged["checks"])
}

func TestDeepMergeDoesNotMutateInputs(t *testing.T) {
	base := map[string]interface{}{"a": map[string]interface{}{"x": 1}}
	overlay := map[string]interface{}{"a": map[string]interface{}{"y": 2}}
	_ = DeepMerge(base, overlay)
	assert.Equal(t, map[string]interface{}{"x": 1}, base["a"])
	assert.Equal(t, map[string]interface{}{"y": 2}, overlay["a"])
}

// genManifestDoc produces small nested string→value documents.
func genManifestDoc() gopter.Gen {
	leaf := asAny(gen.OneGenOf(gen.AlphaString(), gen.Float64Range(0, 1), gen.Bool()))
	inner := gen.MapOf(gen.Identifier(), leaf)
	return gen.MapOf(gen.Identifier(), asAny(gen.OneGenOf(leaf, inner)))
}

// asAny declares a generator's result type as interface{} so gen.MapOf
// builds map[string]interface{} values matching the property signatures.
func asAny(g gopter.Gen) gopter.Gen {
	anyType := reflect.TypeOf((*interface{})(nil)).Elem()
	return func(params *gopter.GenParameters) *gopter.GenResult {
		res := g(params)
		res.ResultType = anyType
		res.Shrinker = gopter.NoShrinker
		return res
	}
}

// Property: merge(A, A) == A for any document A.
func TestDeepMergeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merge(A, A) = A", prop.ForAll(
		func(doc map[string]interface{}) bool {
			return reflect.DeepEqual(DeepMerge(doc, doc), doc)
		},
		genManifestDoc(),
	))

	properties.TestingRun(t)
}

// Property: keys of merge(A, B) = keys(A) ∪ keys(B).
func TestDeepMergeKeyUnion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("key union", prop.ForAll(
		func(a, b map[string]interface{}) bool {
			merged := DeepMerge(a, b)
			for k := range a {
				if _, ok := merged[k]; !ok {
					return false
				}
			}
			for k := range b {
				if _, ok := merged[k]; !ok {
					return false
				}
			}
			for k := range merged {
				_, inA := a[k]
				_, inB := b[k]
				if !inA && !inB {
					return false
				}
			}
			return true
		},
		genManifestDoc(),
		genManifestDoc(),
	))

	properties.TestingRun(t)
}
