// Package sanitizer is the static code barrier of the execution kernel.
// It parses agent-submitted Python payloads with tree-sitter and rejects
// dangerous constructs (dynamic eval, privileged imports, shell
// injection, protected-path access) before any code reaches an
// execution environment.
//
// The barrier is purely syntactic: no constant folding, no data-flow
// analysis. Anything the parser cannot prove safe at the literal level
// is reported, and a payload that fails to parse is unsafe by
// definition.
package sanitizer

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"go.uber.org/zap"
)

// Violation rules form a closed vocabulary.
const (
	RuleBlacklistedImport    = "blacklisted_import"
	RuleBlacklistedCall      = "blacklisted_call"
	RuleShellTrue            = "shell_true"
	RuleProtectedPath        = "protected_path"
	RuleBlacklistedAttribute = "blacklisted_attribute"
)

// Violation describes one rejected construct.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Line    uint32 `json:"line"`   // 1-based
	Column  uint32 `json:"column"` // 1-based
}

// Result is the outcome of a scan.
type Result struct {
	Safe        bool        `json:"safe"`
	Violations  []Violation `json:"violations,omitempty"`
	SyntaxError bool        `json:"syntax_error,omitempty"`
	Filename    string      `json:"filename,omitempty"`
}

// Sanitizer scans source payloads. Blacklists are additive only: the
// runtime can extend them through options but never remove an entry.
type Sanitizer struct {
	mu     sync.Mutex // tree-sitter parsers are not concurrency-safe
	parser *sitter.Parser
	logger *zap.Logger

	importBlacklist    map[string]struct{}
	callBlacklist      map[string]struct{}
	shellSinks         map[string]struct{}
	fileSinks          map[string]struct{}
	attributeBlacklist map[string]struct{}
	protectedPrefixes  []string
}

// Option extends a Sanitizer's blacklists.
type Option func(*Sanitizer)

// WithExtraImports adds import names to the blacklist.
func WithExtraImports(names ...string) Option {
	return func(s *Sanitizer) {
		for _, n := range names {
			s.importBlacklist[n] = struct{}{}
		}
	}
}

// WithExtraProtectedPrefixes adds protected path prefixes.
func WithExtraProtectedPrefixes(prefixes ...string) Option {
	return func(s *Sanitizer) {
		s.protectedPrefixes = append(s.protectedPrefixes, prefixes...)
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sanitizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a sanitizer with the built-in blacklists.
func New(opts ...Option) *Sanitizer {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	s := &Sanitizer{
		parser: parser,
		logger: zap.NewNop(),
		importBlacklist: toSet(
			"os", "sys", "subprocess", "importlib", "ctypes", "cffi",
			"socket", "pickle", "shelve", "marshal", "builtins", "pty", "termios",
		),
		callBlacklist: toSet(
			"eval", "exec", "compile", "__import__", "execfile", "input",
		),
		shellSinks: toSet(
			"subprocess.call", "subprocess.run", "subprocess.Popen", "subprocess.check_output",
		),
		fileSinks: toSet("open", "pathlib.Path"),
		attributeBlacklist: toSet(
			"__class__", "__bases__", "__mro__", "__subclasses__",
			"__globals__", "__builtins__", "__code__", "__closure__", "__dict__",
		),
		protectedPrefixes: []string{
			"/etc/", "/sys/", "/proc/", "/root/", "/boot/", "/dev/", "~/.ssh", ".env",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func toSet(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Scan parses source and walks the AST once, applying every barrier.
// An empty or whitespace-only payload is safe. A payload that cannot be
// parsed yields {Safe: false, SyntaxError: true}.
func (s *Sanitizer) Scan(ctx context.Context, source []byte, filename string) (*Result, error) {
	if strings.TrimSpace(string(source)) == "" {
		return &Result{Safe: true, Filename: filename}, nil
	}

	s.mu.Lock()
	tree, err := s.parser.ParseCtx(ctx, nil, source)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		s.logger.Debug("payload rejected: parse error", zap.String("filename", filename))
		return &Result{Safe: false, SyntaxError: true, Filename: filename}, nil
	}

	w := &walker{sanitizer: s, source: source}
	w.walk(root)

	res := &Result{
		Safe:       len(w.violations) == 0,
		Violations: w.violations,
		Filename:   filename,
	}
	if !res.Safe {
		s.logger.Info("payload rejected by sanitizer",
			zap.String("filename", filename),
			zap.Int("violations", len(res.Violations)),
			zap.String("first_rule", res.Violations[0].Rule))
	}
	return res, nil
}

// walker carries per-scan state through the single AST pass.
type walker struct {
	sanitizer  *Sanitizer
	source     []byte
	violations []Violation
}

func (w *walker) walk(node *sitter.Node) {
	switch node.Type() {
	case "import_statement":
		w.checkImport(node)
	case "import_from_statement":
		w.checkImportFrom(node)
	case "call":
		w.checkCall(node)
	case "attribute":
		w.checkAttribute(node)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i))
	}
}

func (w *walker) text(node *sitter.Node) string {
	return string(w.source[node.StartByte():node.EndByte()])
}

func (w *walker) report(node *sitter.Node, rule, message string) {
	w.violations = append(w.violations, Violation{
		Rule:    rule,
		Message: message,
		Line:    node.StartPoint().Row + 1,
		Column:  node.StartPoint().Column + 1,
	})
}

// checkImport handles `import x`, `import x.y`, `import x as y`.
func (w *walker) checkImport(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		name := ""
		switch child.Type() {
		case "dotted_name":
			name = w.text(child)
		case "aliased_import":
			if dn := child.ChildByFieldName("name"); dn != nil {
				name = w.text(dn)
			}
		}
		w.reportIfBlacklistedModule(child, name)
	}
}

// checkImportFrom handles `from x import y` and `from x.y import z`.
func (w *walker) checkImportFrom(node *sitter.Node) {
	module := node.ChildByFieldName("module_name")
	if module == nil {
		return
	}
	w.reportIfBlacklistedModule(module, w.text(module))
}

func (w *walker) reportIfBlacklistedModule(node *sitter.Node, name string) {
	if name == "" {
		return
	}
	first := name
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		first = name[:idx]
	}
	if _, bad := w.sanitizer.importBlacklist[first]; bad {
		w.report(node, RuleBlacklistedImport, "import of privileged module "+first+" is not permitted")
	}
}

func (w *walker) checkCall(node *sitter.Node) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	callee := w.dottedName(fn)
	if callee == "" {
		return
	}

	if _, bad := w.sanitizer.callBlacklist[callee]; bad {
		w.report(node, RuleBlacklistedCall, "call to "+callee+" enables dynamic code execution")
		return
	}

	if _, sink := w.sanitizer.shellSinks[callee]; sink {
		if arg := w.truthyShellKeyword(node); arg != nil {
			w.report(arg, RuleShellTrue, callee+" invoked with shell=True allows shell injection")
		}
	}

	if _, sink := w.sanitizer.fileSinks[callee]; sink {
		if lit, path := w.firstPositionalString(node); lit != nil {
			for _, prefix := range w.sanitizer.protectedPrefixes {
				if strings.HasPrefix(path, prefix) {
					w.report(lit, RuleProtectedPath, callee+" targets protected path "+path)
					break
				}
			}
		}
	}
}

func (w *walker) checkAttribute(node *sitter.Node) {
	attr := node.ChildByFieldName("attribute")
	if attr == nil {
		return
	}
	name := w.text(attr)
	if _, bad := w.sanitizer.attributeBlacklist[name]; bad {
		w.report(attr, RuleBlacklistedAttribute, "access to "+name+" enables sandbox escape")
	}
}

// dottedName resolves `a.b.c` callees to their dotted string form.
// Subscripted or computed callees resolve to "" and are skipped; the
// barrier only reasons about literal names.
func (w *walker) dottedName(node *sitter.Node) string {
	switch node.Type() {
	case "identifier":
		return w.text(node)
	case "attribute":
		obj := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return ""
		}
		base := w.dottedName(obj)
		if base == "" {
			return ""
		}
		return base + "." + w.text(attr)
	default:
		return ""
	}
}

// truthyShellKeyword returns the value node of a `shell=<truthy literal>`
// keyword argument, or nil. Only literals count: no constant folding.
func (w *walker) truthyShellKeyword(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		kw := args.NamedChild(i)
		if kw.Type() != "keyword_argument" {
			continue
		}
		name := kw.ChildByFieldName("name")
		value := kw.ChildByFieldName("value")
		if name == nil || value == nil || w.text(name) != "shell" {
			continue
		}
		if w.literalTruthy(value) {
			return value
		}
	}
	return nil
}

func (w *walker) literalTruthy(node *sitter.Node) bool {
	switch node.Type() {
	case "true":
		return true
	case "integer", "float":
		text := strings.TrimLeft(w.text(node), "+-")
		trimmed := strings.Trim(text, "0.")
		return trimmed != ""
	case "string":
		return stringLiteralContent(w.text(node)) != ""
	default:
		return false
	}
}

// firstPositionalString returns the first positional argument when it
// is a string literal, together with its unquoted content.
func (w *walker) firstPositionalString(call *sitter.Node) (*sitter.Node, string) {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil, ""
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() == "keyword_argument" {
			continue
		}
		if arg.Type() != "string" {
			return nil, ""
		}
		return arg, stringLiteralContent(w.text(arg))
	}
	return nil, ""
}

// stringLiteralContent strips Python string prefixes and quotes.
func stringLiteralContent(lit string) string {
	trimmed := strings.TrimLeft(lit, "rRbBuUfF")
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(trimmed, quote) && strings.HasSuffix(trimmed, quote) && len(trimmed) >= 2*len(quote) {
			return trimmed[len(quote) : len(trimmed)-len(quote)]
		}
	}
	return trimmed
}
