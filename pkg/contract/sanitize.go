package contract

import (
	"context"
	"fmt"

	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/manifest"
	"github.com/archon-platform/kernel/pkg/sanitizer"
)

// codeParameterKeys are the payload fields scanned for source code.
var codeParameterKeys = []string{"code", "source", "script"}

// CodeSanitizer rejects operations whose payload carries source code
// containing forbidden constructs. Payloads without a code field pass;
// unparseable code fails closed.
type CodeSanitizer struct {
	Scanner *sanitizer.Sanitizer
}

// NewCodeSanitizer wraps a scanner with default blacklists.
func NewCodeSanitizer() *CodeSanitizer {
	return &CodeSanitizer{Scanner: sanitizer.New()}
}

func (c *CodeSanitizer) Name() string { return "code_sanitizer" }

func (c *CodeSanitizer) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	scanner := c.Scanner
	if scanner == nil {
		scanner = sanitizer.New()
	}

	for _, key := range codeParameterKeys {
		raw, ok := ctx.Parameters[key]
		if !ok {
			continue
		}
		src, ok := raw.(string)
		if !ok {
			return decision.Deny("code_sanitizer", decision.ReasonPreConditionFailed, decision.SeverityMedium,
				fmt.Sprintf("parameter %q is not a string", key))
		}

		result, err := scanner.Scan(context.Background(), []byte(src), key+".py")
		if err != nil {
			return decision.Deny("code_sanitizer", decision.ReasonInternalError, decision.SeverityCritical,
				fmt.Sprintf("scan failed: %v", err))
		}
		if result.SyntaxError {
			return decision.Deny("code_sanitizer", decision.ReasonPreConditionFailed, decision.SeverityHigh,
				fmt.Sprintf("parameter %q is not parseable source", key))
		}
		if !result.Safe {
			v := result.Violations[0]
			return decision.Deny("code_sanitizer", decision.ReasonInvariantViolated, decision.SeverityCritical,
				fmt.Sprintf("forbidden construct in %q at line %d: %s", key, v.Line, v.Message)).
				WithDetails(map[string]interface{}{
					"rule":       v.Rule,
					"line":       v.Line,
					"violations": len(result.Violations),
				})
		}
	}
	return decision.Approve("code_sanitizer", "no forbidden constructs")
}
