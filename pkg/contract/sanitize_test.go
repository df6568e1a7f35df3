package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archon-platform/kernel/pkg/decision"
)

func TestCodeSanitizerCleanCode(t *testing.T) {
	c := NewCodeSanitizer()
	ctx := testCtx(t, "run_script", map[string]interface{}{
		"code": "import json\nprint(json.dumps({'ok': True}))\n",
	})
	r := c.CheckPre(ctx, testManifest())
	assert.True(t, r.Approved)
}

func TestCodeSanitizerBlocksForbiddenImport(t *testing.T) {
	c := NewCodeSanitizer()
	ctx := testCtx(t, "run_script", map[string]interface{}{
		"code": "import subprocess\nsubprocess.run(['ls'])\n",
	})
	r := c.CheckPre(ctx, testManifest())
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonInvariantViolated, r.Reason)
	assert.Equal(t, decision.SeverityCritical, r.Severity)
}

func TestCodeSanitizerNoCodeFieldPasses(t *testing.T) {
	c := NewCodeSanitizer()
	ctx := testCtx(t, "read_file", map[string]interface{}{"path": "/tmp/data.txt"})
	r := c.CheckPre(ctx, testManifest())
	assert.True(t, r.Approved)
}

func TestCodeSanitizerNonStringCodeDenied(t *testing.T) {
	c := NewCodeSanitizer()
	ctx := testCtx(t, "run_script", map[string]interface{}{"code": 42})
	r := c.CheckPre(ctx, testManifest())
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPreConditionFailed, r.Reason)
}

func TestCodeSanitizerScansSourceAndScriptKeys(t *testing.T) {
	c := NewCodeSanitizer()
	for _, key := range []string{"source", "script"} {
		ctx := testCtx(t, "run_script", map[string]interface{}{
			key: "eval('1+1')\n",
		})
		r := c.CheckPre(ctx, testManifest())
		assert.False(t, r.Approved, "key %s", key)
	}
}
