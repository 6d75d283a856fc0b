// internal/plan/steps.go
package plan

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// SplitSteps splits text into statements on ';' and line breaks that sit
// outside string literals and brackets. origin is the position of text's
// first character; every line of text is taken to start at origin.Column.
// Empty statements are dropped.
func SplitSteps(text string, origin schemas.Position) ([]schemas.TestStep, error) {
	var (
		steps   []schemas.TestStep
		current strings.Builder
		start   schemas.Position
		started bool
		depth   int
		quote   rune
		line    = origin.Line
		col     = origin.Column
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			steps = append(steps, schemas.TestStep{Index: len(steps), Statement: stmt, Position: start})
		}
		current.Reset()
		started = false
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !started && r != ' ' && r != '\t' && r != '\n' && r != '\r' && r != ';' {
			start = schemas.Position{Line: line, Column: col}
			started = true
		}

		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				current.WriteRune(runes[i])
				col++
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			current.WriteRune(r)
		case r == '(' || r == '[' || r == '{':
			depth++
			current.WriteRune(r)
		case r == ')' || r == ']' || r == '}':
			if depth == 0 {
				return nil, fmt.Errorf("%d:%d: unbalanced %q", line, col, r)
			}
			depth--
			current.WriteRune(r)
		case r == ';' && depth == 0:
			flush()
		case r == '\n' && depth == 0:
			flush()
		default:
			current.WriteRune(r)
		}

		if r == '\n' {
			line++
			col = origin.Column
		} else {
			col++
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%d:%d: unterminated string literal", start.Line, start.Column)
	}
	if depth != 0 {
		return nil, fmt.Errorf("%d:%d: unclosed bracket", start.Line, start.Column)
	}
	flush()
	return steps, nil
}
