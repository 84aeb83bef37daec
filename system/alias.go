package system

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Paranoid-AF/mcconsole/console"
)

const aliasKey = "aliases"

// maxAliasDepth bounds how many aliases one line may expand through.
const maxAliasDepth = 16

// ErrAliasCycle is reported when an alias expands back into itself.
var ErrAliasCycle = errors.New("alias cycle detected")

func (s *System) aliasCommands() []*console.Command {
	return []*console.Command{
		{
			Name:        "alias",
			Description: "Record the next line as an alias",
			Detail:      "The next line entered is stored under name instead of running.\nArguments typed after an alias are appended to its text.",
			Params:      []console.Param{console.Required("name")},
			Handler:     s.alias,
		},
		{
			Name:        "unalias",
			Description: "Remove an alias",
			Params:      []console.Param{console.Required("name")},
			Handler:     s.unalias,
		},
		{
			Name:        "aliases",
			Description: "List aliases",
			Handler:     s.listAliases,
		},
		{
			Name:    "alias-recorder",
			Events:  []console.Kind{console.KindPreInput},
			Hidden:  true,
			Handler: s.recordAlias,
		},
		{
			Name:    "alias-expander",
			Events:  []console.Kind{console.KindPreInput},
			Hidden:  true,
			Handler: s.expandAlias,
		},
	}
}

func (s *System) protected(name string) bool {
	for _, cmd := range []string{"alias", "unalias", "quit", "q"} {
		if name == string(rune(Prefix))+cmd {
			return true
		}
	}
	return false
}

func (s *System) alias(e *console.Event) error {
	e.Handled = true
	name := e.Args()[0]
	if strings.ContainsAny(name, " \t\r\n") {
		e.AddOutput("Alias name cannot contain whitespace")
		return nil
	}
	if s.protected(name) {
		e.AddOutput("Cannot alias protected command: " + name)
		return nil
	}
	s.aliasMu.Lock()
	s.armed = name
	s.aliasMu.Unlock()
	e.AddOutputf("Recording alias '%s'. Enter command to alias now.", name)
	return nil
}

func (s *System) unalias(e *console.Event) error {
	e.Handled = true
	name := e.Args()[0]
	var aliases map[string]string
	removed := false
	err := s.aliasStore().Update(aliasKey, &aliases, func(bool) error {
		if _, ok := aliases[name]; ok {
			delete(aliases, name)
			removed = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if removed {
		e.AddOutputf("Removed alias '%s'", name)
	} else {
		e.AddOutputf("No alias named '%s'", name)
	}
	return nil
}

func (s *System) listAliases(e *console.Event) error {
	e.Handled = true
	aliases, err := s.aliases()
	if err != nil {
		return err
	}
	if len(aliases) == 0 {
		e.AddOutput("No aliases defined")
		return nil
	}
	for _, name := range slices.Sorted(maps.Keys(aliases)) {
		e.AddOutputf("\t%s =>\t%s", name, aliases[name])
	}
	return nil
}

func (s *System) aliasStore() *console.Datastore {
	return s.ctrl.Datastore(string(rune(Prefix)))
}

func (s *System) aliases() (map[string]string, error) {
	var aliases map[string]string
	if _, err := s.aliasStore().Get(aliasKey, &aliases); err != nil {
		return nil, err
	}
	return aliases, nil
}

// recordAlias stores the line entered after "alias name" instead of
// running it.
func (s *System) recordAlias(e *console.Event) error {
	s.aliasMu.Lock()
	name := s.armed
	s.armed = ""
	s.aliasMu.Unlock()
	if name == "" {
		return nil
	}

	text := e.Raw()
	var aliases map[string]string
	err := s.aliasStore().Update(aliasKey, &aliases, func(bool) error {
		if aliases == nil {
			aliases = make(map[string]string)
		}
		aliases[name] = text
		return nil
	})
	e.Canceled = true
	e.Handled = true
	if err != nil {
		return err
	}

	saved := console.NewOutput(fmt.Sprintf("Saved alias: '%s' => '%s'", name, text))
	saved.SetInput = true
	s.ctrl.Trigger(saved)
	s.log.Debug("alias saved", "name", name)
	return nil
}

// expandAlias replaces a line starting with an alias by the alias text
// followed by the rest of the line, and dispatches the result in its place.
func (s *System) expandAlias(e *console.Event) error {
	if e.Canceled {
		return nil
	}
	first, rest, ok := console.SplitFirst(e.Raw())
	if !ok {
		return nil
	}
	aliases, err := s.aliases()
	if err != nil {
		return err
	}
	text, ok := aliases[first]
	if !ok {
		return nil
	}
	e.Canceled = true
	e.Handled = true

	chain, err := expansionChain(e.Expansions, first)
	if err != nil {
		s.log.With("err", err).Debug("alias rejected")
		s.printf("Error: %v", err)
		return nil
	}

	line := text
	if rest != "" {
		line += " " + rest
	}
	next := console.NewPreInput(line)
	next.Expansions = chain
	s.ctrl.Trigger(next)
	return nil
}

// expansionChain appends name to the aliases already expanded, failing
// when name is among them or the chain grows past maxAliasDepth.
func expansionChain(expanded []string, name string) ([]string, error) {
	chain := append(slices.Clone(expanded), name)
	if slices.Contains(expanded, name) || len(chain) > maxAliasDepth {
		return nil, fmt.Errorf("%w: %s", ErrAliasCycle, strings.Join(chain, " -> "))
	}
	return chain, nil
}
