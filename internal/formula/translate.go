package formula

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// call is a function invocation found while translating.
type call struct {
	Name string
	// Namespace is the part before the dot for "Ns.Func(" calls.
	Namespace string
}

// translator rewrites a formula statement into the JavaScript subset the
// evaluator runs: "=" becomes "==", "<>" becomes "!=", a lone "&" concatenates,
// string literals use doubled quotes as escapes, and the leading reference
// arguments of some functions are passed as their source text.
type translator struct {
	src      []rune
	i        int
	out      strings.Builder
	refArity func(name string) int
	calls    []call
	unclosed bool
}

func translate(statement string, refArity func(name string) int) (string, []call, bool) {
	t := &translator{src: []rune(statement), refArity: refArity}
	t.run()
	return t.out.String(), t.calls, t.unclosed
}

// keywords look like calls when followed by "(" but are not functions.
var keywords = map[string]bool{
	"function": true, "if": true, "while": true, "for": true, "switch": true,
	"return": true, "typeof": true, "catch": true,
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func (t *translator) peek(off int) rune {
	if t.i+off < len(t.src) {
		return t.src[t.i+off]
	}
	return 0
}

func (t *translator) run() {
	for t.i < len(t.src) {
		c := t.src[t.i]
		switch {
		case c == '"':
			t.out.WriteString(t.readString())
		case isIdentStart(c):
			t.identifier()
		case c >= '0' && c <= '9':
			for t.i < len(t.src) && (isIdentPart(t.src[t.i]) || t.src[t.i] == '.') {
				t.out.WriteRune(t.src[t.i])
				t.i++
			}
		case c == '<' && t.peek(1) == '>':
			t.out.WriteString("!=")
			t.i += 2
		case c == '=':
			prev := rune(0)
			if t.i > 0 {
				prev = t.src[t.i-1]
			}
			if prev == '<' || prev == '>' || prev == '!' || prev == '=' || t.peek(1) == '=' {
				t.out.WriteRune(c)
			} else {
				t.out.WriteString("==")
			}
			t.i++
		case c == '&' && t.peek(1) == '&':
			t.out.WriteString("&&")
			t.i += 2
		case c == '&':
			t.out.WriteString("+")
			t.i++
		default:
			t.out.WriteRune(c)
			t.i++
		}
	}
}

// readString consumes a formula string literal and returns it as a JSON literal.
func (t *translator) readString() string {
	var b strings.Builder
	t.i++ // opening quote
	for t.i < len(t.src) {
		c := t.src[t.i]
		if c == '"' {
			if t.peek(1) == '"' {
				b.WriteRune('"')
				t.i += 2
				continue
			}
			t.i++
			lit, _ := json.MarshalToString(b.String())
			return lit
		}
		b.WriteRune(c)
		t.i++
	}
	t.unclosed = true
	lit, _ := json.MarshalToString(b.String())
	return lit
}

func (t *translator) identifier() {
	start := t.i
	for t.i < len(t.src) && (isIdentPart(t.src[t.i]) || (t.src[t.i] == '.' && t.i+1 < len(t.src) && isIdentStart(t.src[t.i+1]))) {
		t.i++
	}
	name := string(t.src[start:t.i])
	t.out.WriteString(name)

	j := t.i
	for j < len(t.src) && (t.src[j] == ' ' || t.src[j] == '\t') {
		j++
	}
	if j >= len(t.src) || t.src[j] != '(' || keywords[name] {
		return
	}

	c := call{Name: name}
	if dot := strings.LastIndex(name, "."); dot > 0 {
		c.Namespace = name[:dot]
	}
	t.calls = append(t.calls, c)

	refs := 0
	if t.refArity != nil {
		refs = t.refArity(name)
	}
	t.out.WriteRune('(')
	t.i = j + 1
	for k := 0; k < refs; k++ {
		argStart := t.i
		t.skipArg()
		raw := strings.TrimSpace(string(t.src[argStart:t.i]))
		if raw != "" {
			if strings.HasPrefix(raw, `"`) {
				sub := &translator{src: []rune(raw)}
				t.out.WriteString(sub.readString())
			} else {
				lit, _ := json.MarshalToString(raw)
				t.out.WriteString(lit)
			}
		}
		if t.i >= len(t.src) || t.src[t.i] != ',' {
			break
		}
		t.out.WriteRune(',')
		t.i++
	}
	// The remaining arguments and the closing paren go through the main loop.
}

// skipArg advances past one argument, stopping at a top-level ',' or ')'.
func (t *translator) skipArg() {
	depth := 0
	for t.i < len(t.src) {
		c := t.src[t.i]
		switch {
		case c == '"':
			t.readString()
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth == 0 {
				return
			}
			depth--
		case c == ',' && depth == 0:
			return
		}
		t.i++
	}
}
