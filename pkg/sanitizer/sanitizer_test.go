package sanitizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scan(t *testing.T, source string) *Result {
	t.Helper()
	res, err := New().Scan(context.Background(), []byte(source), "payload.py")
	require.NoError(t, err)
	return res
}

func ruleAt(t *testing.T, res *Result, rule string) Violation {
	t.Helper()
	for _, v := range res.Violations {
		if v.Rule == rule {
			return v
		}
	}
	t.Fatalf("no violation with rule %q in %+v", rule, res.Violations)
	return Violation{}
}

func TestEmptyInputIsSafe(t *testing.T) {
	assert.True(t, scan(t, "").Safe)
	assert.True(t, scan(t, "   \n\t  ").Safe)
}

func TestBenignCodeIsSafe(t *testing.T) {
	res := scan(t, `
def add(a, b):
    return a + b

result = add(1, 2)
print(result)
`)
	assert.True(t, res.Safe)
	assert.Empty(t, res.Violations)
}

func TestSyntaxErrorIsUnsafe(t *testing.T) {
	res := scan(t, "def broken(:\n  pass")
	assert.False(t, res.Safe)
	assert.True(t, res.SyntaxError)
}

func TestBlacklistedImports(t *testing.T) {
	cases := []string{
		"import os",
		"import subprocess",
		"import os.path",
		"import socket as s",
		"from sys import argv",
		"from ctypes.util import find_library",
	}
	for _, src := range cases {
		res := scan(t, src)
		assert.False(t, res.Safe, src)
		v := ruleAt(t, res, RuleBlacklistedImport)
		assert.Equal(t, uint32(1), v.Line, src)
	}

	assert.True(t, scan(t, "import json").Safe)
	assert.True(t, scan(t, "from collections import OrderedDict").Safe)
}

func TestBlacklistedCalls(t *testing.T) {
	for _, src := range []string{
		`eval("1+1")`,
		`exec(code)`,
		`compile(src, "<s>", "exec")`,
		`__import__("os")`,
		`input("? ")`,
	} {
		res := scan(t, src)
		assert.False(t, res.Safe, src)
		ruleAt(t, res, RuleBlacklistedCall)
	}

	// Same names as methods of other objects are not the builtins.
	assert.True(t, scan(t, "model.eval()").Safe)
}

func TestShellTrue(t *testing.T) {
	res := scan(t, `subprocess.run("ls", shell=True)`)
	assert.False(t, res.Safe)
	v := ruleAt(t, res, RuleShellTrue)
	assert.Equal(t, uint32(1), v.Line)

	for _, src := range []string{
		`subprocess.call(cmd, shell=1)`,
		`subprocess.Popen(cmd, shell="yes")`,
		`subprocess.check_output(cmd, shell=True)`,
	} {
		assert.False(t, scan(t, src).Safe, src)
	}

	// Falsy or non-literal shell values do not trigger the rule
	// (the import itself still does).
	res = scan(t, `subprocess.run("ls", shell=False)`)
	for _, v := range res.Violations {
		assert.NotEqual(t, RuleShellTrue, v.Rule)
	}
	res = scan(t, `subprocess.run("ls", shell=flag)`)
	for _, v := range res.Violations {
		assert.NotEqual(t, RuleShellTrue, v.Rule)
	}
}

func TestProtectedPath(t *testing.T) {
	res := scan(t, `open('/etc/passwd','r')`)
	assert.False(t, res.Safe)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, RuleProtectedPath, res.Violations[0].Rule)
	assert.Equal(t, uint32(1), res.Violations[0].Line)

	for _, src := range []string{
		`open("/proc/self/environ")`,
		`open("~/.ssh/id_rsa")`,
		`open(".env")`,
		`pathlib.Path("/root/secret")`,
	} {
		res := scan(t, src)
		assert.False(t, res.Safe, src)
		ruleAt(t, res, RuleProtectedPath)
	}

	assert.True(t, scan(t, `open("/tmp/data.txt")`).Safe)
	// Non-literal first argument: nothing to prove, no violation.
	assert.True(t, scan(t, `open(user_path)`).Safe)
}

func TestBlacklistedAttributes(t *testing.T) {
	for _, src := range []string{
		`x.__class__`,
		`().__class__.__bases__`,
		`f.__globals__["builtins"]`,
		`obj.__dict__`,
	} {
		res := scan(t, src)
		assert.False(t, res.Safe, src)
		ruleAt(t, res, RuleBlacklistedAttribute)
	}

	assert.True(t, scan(t, "x.__len__()").Safe)
}

func TestMultipleViolationsReported(t *testing.T) {
	res := scan(t, `
import os
eval("x")
open("/etc/shadow")
`)
	assert.False(t, res.Safe)
	assert.GreaterOrEqual(t, len(res.Violations), 3)
}

func TestLineNumbersOneBased(t *testing.T) {
	res := scan(t, "x = 1\nimport os\n")
	v := ruleAt(t, res, RuleBlacklistedImport)
	assert.Equal(t, uint32(2), v.Line)
}

func TestAdditiveExtension(t *testing.T) {
	s := New(
		WithExtraImports("requests"),
		WithExtraProtectedPrefixes("/var/secrets/"),
	)

	res, err := s.Scan(context.Background(), []byte("import requests"), "p.py")
	require.NoError(t, err)
	assert.False(t, res.Safe)

	res, err = s.Scan(context.Background(), []byte(`open("/var/secrets/db")`), "p.py")
	require.NoError(t, err)
	assert.False(t, res.Safe)

	// Built-ins are still enforced: extension never removes protections.
	res, err = s.Scan(context.Background(), []byte("import os"), "p.py")
	require.NoError(t, err)
	assert.False(t, res.Safe)
}

func TestStringLiteralContent(t *testing.T) {
	assert.Equal(t, "/etc/passwd", stringLiteralContent(`'/etc/passwd'`))
	assert.Equal(t, "/etc/passwd", stringLiteralContent(`"/etc/passwd"`))
	assert.Equal(t, "x", stringLiteralContent(`r"x"`))
	assert.Equal(t, "doc", stringLiteralContent(`"""doc"""`))
	assert.Equal(t, "", stringLiteralContent(`""`))
}
