package console

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// maxSuggestDistance bounds the edit distance of "did you mean" hints.
const maxSuggestDistance = 2

// Category groups commands under a single character prefix. INPUT events are
// resolved by prefix and name; every other kind is broadcast to the commands
// declared for it, in registration order.
type Category struct {
	prefix      byte
	name        string
	description string

	mu       sync.RWMutex
	commands map[Kind][]*Command
	fallback *Command
}

// NewCategory returns a category with the built-in help command registered.
func NewCategory(prefix byte, name, description string) *Category {
	c := &Category{
		prefix:      prefix,
		name:        name,
		description: description,
		commands:    make(map[Kind][]*Command),
	}
	c.commands[KindInput] = []*Command{c.helpCommand()}
	return c
}

// Prefix returns the INPUT prefix character.
func (c *Category) Prefix() byte { return c.prefix }

// Name returns the category name.
func (c *Category) Name() string { return c.name }

// Description returns the one-line category description.
func (c *Category) Description() string { return c.description }

// Add registers commands. A command whose name is already registered for a
// kind replaces the old one in place.
func (c *Category) Add(cmds ...*Command) error {
	for _, cmd := range cmds {
		if err := cmd.validate(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range cmds {
		for _, kind := range cmd.kinds() {
			c.commands[kind] = upsert(c.commands[kind], cmd)
		}
	}
	return nil
}

func upsert(list []*Command, cmd *Command) []*Command {
	for i, existing := range list {
		if existing.Name == cmd.Name {
			list[i] = cmd
			return list
		}
	}
	return append(list, cmd)
}

// SetFallback makes cmd handle prefixed INPUT whose name matches no command,
// in place of the "Unrecognized command" reply. A nil cmd removes it.
func (c *Category) SetFallback(cmd *Command) error {
	if cmd != nil {
		if err := cmd.validate(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.fallback = cmd
	c.mu.Unlock()
	return nil
}

// Fallback returns the command set by SetFallback, or nil.
func (c *Category) Fallback() *Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback
}

// Remove unregisters the command name from kind.
func (c *Category) Remove(kind Kind, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.commands[kind]
	for i, cmd := range list {
		if cmd.Name == name {
			c.commands[kind] = slices.Delete(list, i, i+1)
			return true
		}
	}
	return false
}

// Replace swaps every command registered for kind with cmds in one step.
// The built-in help command survives a replacement of INPUT commands.
func (c *Category) Replace(kind Kind, cmds []*Command) error {
	list := make([]*Command, 0, len(cmds)+1)
	if kind == KindInput {
		list = append(list, c.helpCommand())
	}
	for _, cmd := range cmds {
		if err := cmd.validate(); err != nil {
			return err
		}
		list = upsert(list, cmd)
	}
	c.mu.Lock()
	c.commands[kind] = list
	c.mu.Unlock()
	return nil
}

// Clear removes every command and restores the built-in help.
func (c *Category) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = map[Kind][]*Command{KindInput: {c.helpCommand()}}
}

// Lookup returns the command registered for kind under name.
func (c *Category) Lookup(kind Kind, name string) (*Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cmd := range c.commands[kind] {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return nil, false
}

// Commands returns the commands registered for kind in registration order.
func (c *Category) Commands(kind Kind) []*Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.commands[kind])
}

// Invoke routes e to the category's commands. The returned error is a
// handler fault; it has already been rendered into e's output.
func (c *Category) Invoke(e *Event) error {
	if e.Kind() != KindInput {
		for _, cmd := range c.Commands(e.Kind()) {
			if err := c.run(cmd, e); err != nil {
				return err
			}
		}
		return nil
	}

	if len(e.tokens) == 0 || e.tokens[0] == "" || e.tokens[0][0] != c.prefix {
		return nil
	}
	name := e.tokens[0][1:]
	cmd, ok := c.Lookup(KindInput, name)
	if !ok {
		if fb := c.Fallback(); fb != nil {
			return c.run(fb, e)
		}
		e.AddOutput("Unrecognized command")
		if hint, ok := c.suggest(name); ok {
			e.AddOutputf("Did you mean %c%s?", c.prefix, hint)
		}
		e.Handled = true
		return nil
	}
	if !cmd.Accepts(len(e.tokens) - 1) {
		e.AddOutput("Usage: " + cmd.Usage(c.prefix))
		e.Handled = true
		return nil
	}
	return c.run(cmd, e)
}

func (c *Category) run(cmd *Command, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", cmd.Name, r)
		}
		if err != nil {
			e.AddOutput("Command encountered unexpected error: " + err.Error())
			e.StopPropagation = true
		}
	}()
	return cmd.Handler(e)
}

func (c *Category) suggest(name string) (string, bool) {
	best, bestDist := "", maxSuggestDistance+1
	for _, cmd := range c.Commands(KindInput) {
		if cmd.Hidden {
			continue
		}
		d := levenshtein.ComputeDistance(name, cmd.Name)
		if d < bestDist && d < len(cmd.Name) {
			best, bestDist = cmd.Name, d
		}
	}
	return best, best != ""
}

func (c *Category) helpCommand() *Command {
	return &Command{
		Name:        "help",
		Description: "Show commands or help for one command",
		Detail:      fmt.Sprintf("With no argument lists every %s command. With a command name shows its usage.", c.name),
		Params:      []Param{Optional("command")},
		Handler:     c.help,
	}
}

func (c *Category) help(e *Event) error {
	e.Handled = true
	args := e.Args()
	if len(args) == 0 {
		visible := slices.DeleteFunc(c.Commands(KindInput), func(cmd *Command) bool { return cmd.Hidden })
		slices.SortFunc(visible, func(a, b *Command) int { return cmp.Compare(a.Name, b.Name) })
		e.AddOutputf("%s commands (%c):", c.name, c.prefix)
		for _, cmd := range visible {
			e.AddOutputf("  %c%-14s %s", c.prefix, cmd.Name, cmd.Description)
		}
		if fb := c.Fallback(); fb != nil {
			e.AddOutputf("  %c%-14s %s", c.prefix, "<"+fb.Name+">", fb.Description)
		}
		return nil
	}

	name := strings.TrimPrefix(args[0], string(c.prefix))
	cmd, ok := c.Lookup(KindInput, name)
	if !ok {
		e.AddOutput("Unrecognized command")
		return nil
	}
	e.AddOutput("Usage: " + cmd.Usage(c.prefix))
	if cmd.Description != "" {
		e.AddOutput(cmd.Description)
	}
	if cmd.Detail != "" {
		e.AddOutput(strings.Split(cmd.Detail, "\n")...)
	}
	if len(cmd.Env) > 0 {
		env := slices.Clone(cmd.Env)
		slices.SortFunc(env, func(a, b EnvUsage) int { return cmp.Compare(a.Name, b.Name) })
		e.AddOutput("Environment:")
		for _, u := range env {
			e.AddOutputf("  %s: %s", u.Name, u.Usage)
		}
	}
	return nil
}
