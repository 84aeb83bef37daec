package console

import (
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Tokenize splits a command line into words the way a shell does, honouring
// single quotes, double quotes and backslash escapes. Nothing is expanded:
// "~", "$x" and globs come back as typed, so game coordinates survive. An
// apostrophe after a letter or digit, as in "don't", is literal. A word that
// starts bare and contains quotes, such as {"text":"hi"}, is kept exactly as
// typed.
//
// Lines the shell grammar rejects (a lone apostrophe, ';', '|', '<', '>' or
// '(') are split on blanks instead, with only double quotes grouping words.
func Tokenize(line string) []string {
	words := parseWords(line)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, w.text)
	}
	return tokens
}

// SplitFirst returns the first word of line and the unparsed text after it,
// with leading blanks removed. ok is false when line has no words.
func SplitFirst(line string) (first, rest string, ok bool) {
	words := parseWords(line)
	if len(words) == 0 {
		return "", "", false
	}
	rest = strings.TrimLeft(line[words[0].end:], " \t\r\n")
	return words[0].text, rest, true
}

// Quote returns s quoted so that Tokenize yields it back as one word.
func Quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return strconv.Quote(s)
	}
	return q
}

type word struct {
	text string
	end  int // byte offset just past the word in the original line
}

func parseWords(line string) []word {
	src, offsets := escapeLiterals(line)
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	var words []word
	err := parser.Words(strings.NewReader(src), func(w *syntax.Word) bool {
		words = append(words, word{
			text: wordText(line, offsets, w),
			end:  offsets[w.End().Offset()],
		})
		return true
	})
	if err != nil {
		return splitFields(line)
	}
	return words
}

func wordText(line string, offsets []int, w *syntax.Word) string {
	if _, bare := w.Parts[0].(*syntax.Lit); bare && hasQuotes(w.Parts[1:]) {
		return line[offsets[w.Pos().Offset()]:offsets[w.End().Offset()]]
	}
	var sb strings.Builder
	for _, part := range w.Parts {
		writePart(&sb, line, offsets, part, false)
	}
	return sb.String()
}

func hasQuotes(parts []syntax.WordPart) bool {
	for _, part := range parts {
		switch part.(type) {
		case *syntax.SglQuoted, *syntax.DblQuoted:
			return true
		}
	}
	return false
}

// splitFields separates line on blanks. A field opening with '"' runs to the
// next '"' that is followed by a blank or the end of the line, and "" inside
// it stands for one quote. An unclosed quote takes the rest of the line.
// Every other byte is literal.
func splitFields(line string) []word {
	var words []word
	i := 0
	for {
		for i < len(line) && isBlank(line[i]) {
			i++
		}
		if i == len(line) {
			return words
		}
		var sb strings.Builder
		if line[i] == '"' {
			for i++; i < len(line); i++ {
				c := line[i]
				if c == '"' {
					if i+1 < len(line) && line[i+1] == '"' {
						sb.WriteByte('"')
						i++
						continue
					}
					if i+1 == len(line) || isBlank(line[i+1]) {
						i++
						break
					}
				}
				sb.WriteByte(c)
			}
		} else {
			for ; i < len(line) && !isBlank(line[i]); i++ {
				sb.WriteByte(line[i])
			}
		}
		words = append(words, word{text: sb.String(), end: i})
	}
}

func isWordByte(c byte) bool {
	return c >= 0x80 || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// escapeLiterals backslash-escapes the bytes outside quotes that the shell
// grammar would misread: every '#', which would start a comment, and every
// apostrophe following a word byte, which would open a quote. offsets maps
// each byte offset of the result back to line.
func escapeLiterals(line string) (string, []int) {
	var sb strings.Builder
	sb.Grow(len(line) + 4)
	offsets := make([]int, 0, len(line)+5)
	var quote byte
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case quote == '\'':
			if c == '\'' {
				quote = 0
			}
		case c == '\\':
			escaped = true
		case quote == '"':
			if c == '"' {
				quote = 0
			}
		case c == '\'' && i > 0 && isWordByte(line[i-1]):
			sb.WriteByte('\\')
			offsets = append(offsets, i)
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			sb.WriteByte('\\')
			offsets = append(offsets, i)
		}
		sb.WriteByte(c)
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(line))
	return sb.String(), offsets
}

func writePart(sb *strings.Builder, line string, offsets []int, part syntax.WordPart, quoted bool) {
	switch p := part.(type) {
	case *syntax.Lit:
		sb.WriteString(unescape(p.Value, quoted))
	case *syntax.SglQuoted:
		sb.WriteString(p.Value)
	case *syntax.DblQuoted:
		for _, inner := range p.Parts {
			writePart(sb, line, offsets, inner, true)
		}
	default:
		// Expansions are kept as typed.
		sb.WriteString(line[offsets[part.Pos().Offset()]:offsets[part.End().Offset()]])
	}
}

// unescape drops the backslash from escape sequences. Inside double quotes
// only the characters the shell treats as escapable lose their backslash.
func unescape(s string, quoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		next := s[i+1]
		if quoted && !strings.ContainsRune("$`\"\\\n", rune(next)) {
			sb.WriteByte(c)
			continue
		}
		i++
		if next != '\n' {
			sb.WriteByte(next)
		}
	}
	return sb.String()
}
