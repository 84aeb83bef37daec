package console

import (
	"errors"
	"fmt"
	"strings"
)

// Handler reacts to an event. A returned error or a panic is a handler fault.
type Handler func(e *Event) error

// Param is a positional command parameter.
type Param struct {
	Name     string
	Optional bool
}

// Required returns a required parameter.
func Required(name string) Param { return Param{Name: name} }

// Optional returns an optional parameter.
func Optional(name string) Param { return Param{Name: name, Optional: true} }

// EnvUsage documents an environment variable a command reads.
type EnvUsage struct {
	Name  string
	Usage string
}

// Command is a named handler with arity and help metadata.
type Command struct {
	Name        string
	Description string
	Detail      string
	// Params are required parameters followed by an optional suffix.
	Params []Param
	Env    []EnvUsage
	// Events lists the kinds the command is registered for; empty means INPUT.
	Events  []Kind
	Hidden  bool
	Handler Handler
}

// ErrInvalidCommand is returned when a command cannot be registered.
var ErrInvalidCommand = errors.New("invalid command")

func (c *Command) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCommand)
	}
	if c.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidCommand, c.Name)
	}
	optional := false
	for _, p := range c.Params {
		if p.Optional {
			optional = true
		} else if optional {
			return fmt.Errorf("%w: %s has required parameter %s after an optional one", ErrInvalidCommand, c.Name, p.Name)
		}
	}
	return nil
}

func (c *Command) kinds() []Kind {
	if len(c.Events) == 0 {
		return []Kind{KindInput}
	}
	return c.Events
}

// Arity returns the number of required and optional parameters.
func (c *Command) Arity() (required, optional int) {
	for _, p := range c.Params {
		if p.Optional {
			optional++
		} else {
			required++
		}
	}
	return required, optional
}

// Accepts reports whether n arguments satisfy the parameter list.
func (c *Command) Accepts(n int) bool {
	required, optional := c.Arity()
	return n >= required && n <= required+optional
}

// Usage returns the usage line, e.g. "#connect [host port]".
func (c *Command) Usage(prefix byte) string {
	var required, optional []string
	for _, p := range c.Params {
		if p.Optional {
			optional = append(optional, p.Name)
		} else {
			required = append(required, p.Name)
		}
	}
	parts := []string{string(prefix) + c.Name}
	parts = append(parts, required...)
	if len(optional) > 0 {
		parts = append(parts, "["+strings.Join(optional, " ")+"]")
	}
	return strings.Join(parts, " ")
}
