package remote

import (
	"fmt"
	"strings"

	mcconsole "github.com/Paranoid-AF/mcconsole"
	"github.com/Paranoid-AF/mcconsole/console"
)

// CallFunc invokes method with the typed arguments.
type CallFunc func(method string, args []string) error

// Commands builds one INPUT command per listed method. Parameters are named
// a, b, c in call order.
func Commands(methods []mcconsole.MethodInfo, call CallFunc) []*console.Command {
	cmds := make([]*console.Command, 0, len(methods))
	for _, m := range methods {
		if m.Name == "" || strings.ContainsAny(m.Name, " \t") {
			continue
		}
		cmds = append(cmds, methodCommand(m, call))
	}
	return cmds
}

func methodCommand(m mcconsole.MethodInfo, call CallFunc) *console.Command {
	params := make([]console.Param, len(m.Args))
	var detail []string
	if len(m.Returns) > 0 {
		detail = append(detail, "Returns: "+strings.Join(m.Returns, ", "))
	}
	for i, arg := range m.Args {
		name := paramName(i)
		params[i] = console.Required(name)
		line := fmt.Sprintf("  %s (%s)", name, arg.Type)
		if arg.Description != "" {
			line += ": " + arg.Description
		}
		detail = append(detail, line)
	}

	method := m.Name
	return &console.Command{
		Name:        method,
		Description: m.Description,
		Detail:      strings.Join(detail, "\n"),
		Params:      params,
		Handler: func(e *console.Event) error {
			e.Handled = true
			return call(method, e.Args())
		},
	}
}

func paramName(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprintf("arg%d", i+1)
}
