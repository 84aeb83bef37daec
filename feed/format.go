package feed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	mcconsole "github.com/Paranoid-AF/mcconsole"
)

// Extractor turns a stream payload into the text of one display line.
type Extractor func(payload json.RawMessage) (string, error)

// Formatter rewrites a display line before delivery.
type Formatter func(line string) string

// ConsoleLine extracts the "line" field of console stream payloads.
func ConsoleLine(payload json.RawMessage) (string, error) {
	var p mcconsole.ConsoleLine
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("console payload: %w", err)
	}
	return p.Line, nil
}

// ChatLine renders chat stream payloads as "player: message".
func ChatLine(payload json.RawMessage) (string, error) {
	var p mcconsole.ChatLine
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("chat payload: %w", err)
	}
	return p.Player + ": " + p.Message, nil
}

// RawLine renders any payload as compact JSON, or as-is when it is a string.
func RawLine(payload json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s, nil
	}
	return string(payload), nil
}

// JQ compiles a jq program into an Extractor. The program's results are
// joined with spaces; string results are used without quotes.
func JQ(program string) (Extractor, error) {
	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("jq: filter parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq: compile error: %w", err)
	}
	return func(payload json.RawMessage) (string, error) {
		var input any
		if err := json.Unmarshal(payload, &input); err != nil {
			return "", fmt.Errorf("jq: payload: %w", err)
		}
		var parts []string
		iter := code.Run(input)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				return "", fmt.Errorf("jq: execution error: %w", err)
			}
			switch val := v.(type) {
			case string:
				parts = append(parts, val)
			case nil:
			default:
				data, err := json.Marshal(val)
				if err != nil {
					return "", fmt.Errorf("jq: %w", err)
				}
				parts = append(parts, string(data))
			}
		}
		return strings.Join(parts, " "), nil
	}, nil
}

// ExtractorFor picks the Extractor for a stream source. A jq program in
// formats overrides the built-in console and chat renderings.
func ExtractorFor(source string, formats map[string]string) (Extractor, error) {
	if program, ok := formats[source]; ok && strings.TrimSpace(program) != "" {
		return JQ(program)
	}
	switch source {
	case "console":
		return ConsoleLine, nil
	case "chat":
		return ChatLine, nil
	default:
		return RawLine, nil
	}
}

var formattingCodes = regexp.MustCompile(`§[0-9a-fk-orA-FK-OR]|\x1b\[[0-9;]*[A-Za-z]`)

// StripFormatting removes game colour codes and ANSI escapes.
func StripFormatting(line string) string {
	return formattingCodes.ReplaceAllString(line, "")
}

// TrimLine removes trailing whitespace the server pads lines with.
func TrimLine(line string) string {
	return strings.TrimRight(line, " \t\r\n")
}

// Chain applies formatters in order.
func Chain(formatters ...Formatter) Formatter {
	return func(line string) string {
		for _, f := range formatters {
			line = f(line)
		}
		return line
	}
}
