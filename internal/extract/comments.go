package extract

import "strings"

// CommentStyle identifies a family of comment syntaxes.
type CommentStyle int

const (
	// CStyle covers // line comments and /* */ block comments.
	CStyle CommentStyle = iota
	// HashStyle covers # line comments and triple-quoted strings, which are
	// treated as block comments whether or not they are docstrings.
	HashStyle
	// PHPStyle covers //, # and /* */.
	PHPStyle
)

// String returns the family name
func (s CommentStyle) String() string {
	switch s {
	case HashStyle:
		return "hash"
	case PHPStyle:
		return "php"
	default:
		return "c"
	}
}

// BlockState is the comment state carried from one line to the next within a
// single file. The zero value means "not inside a block comment".
type BlockState struct {
	open   bool
	closer string
}

// InBlock reports whether the next line starts inside a block comment.
func (b BlockState) InBlock() bool {
	return b.open
}

// Strip removes comment text from one line.
//
// It returns the code that remains outside comments, whether the line is a
// comment-only line, and the state for the following line. Code that follows
// a block-comment terminator on the same line is kept. Delimiters do not nest:
// the first closing token ends the block.
func (s CommentStyle) Strip(line string, state BlockState) (code string, commentOnly bool, next BlockState) {
	var b strings.Builder
	touched := state.open
	rest := line

	for rest != "" {
		if state.open {
			idx := strings.Index(rest, state.closer)
			if idx < 0 {
				rest = ""
				break
			}
			rest = rest[idx+len(state.closer):]
			state = BlockState{}
			continue
		}

		pos, tok := s.nextToken(rest)
		if pos < 0 {
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:pos])
		touched = true

		switch tok {
		case "//", "#":
			rest = ""
		case "/*":
			state = BlockState{open: true, closer: "*/"}
			rest = rest[pos+len(tok):]
		default: // triple quote
			state = BlockState{open: true, closer: tok}
			rest = rest[pos+len(tok):]
		}
	}

	code = b.String()
	return code, touched && strings.TrimSpace(code) == "", state
}

// nextToken finds the earliest comment opener outside a quoted string.
// Quotes are only tracked within the line. A single or double quote that is
// never closed on the line, as in the regex literal /'/, did not open a
// string, so the search resumes just after it. Backticks may span lines and
// stay open.
func (s CommentStyle) nextToken(text string) (int, string) {
	var (
		quote   byte
		quoteAt int
	)

	for i := 0; i < len(text); i++ {
		c := text[i]

		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}

		if s == HashStyle {
			if strings.HasPrefix(text[i:], `"""`) || strings.HasPrefix(text[i:], `'''`) {
				return i, text[i : i+3]
			}
			if c == '#' {
				return i, "#"
			}
		} else {
			if s == PHPStyle && c == '#' {
				return i, "#"
			}
			if strings.HasPrefix(text[i:], "//") {
				return i, "//"
			}
			if strings.HasPrefix(text[i:], "/*") {
				return i, "/*"
			}
		}

		if c == '"' || c == '\'' || c == '`' {
			quote, quoteAt = c, i
		}
	}

	if quote == '"' || quote == '\'' {
		if pos, tok := s.nextToken(text[quoteAt+1:]); pos >= 0 {
			return quoteAt + 1 + pos, tok
		}
	}
	return -1, ""
}
