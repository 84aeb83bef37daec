package system

import "github.com/Paranoid-AF/mcconsole/console"

func (s *System) keyCommands() []*console.Command {
	keypress := []console.Kind{console.KindKeyPress}
	return []*console.Command{
		{Name: "submit", Events: keypress, Hidden: true, Handler: s.submit},
		{Name: "scroll", Events: keypress, Hidden: true, Handler: s.scroll},
		{Name: "history-back", Events: keypress, Hidden: true, Handler: s.historyBack},
		{Name: "history-forward", Events: keypress, Hidden: true, Handler: s.historyForward},
	}
}

// submit turns ENTER into a PREINPUT event for the current line.
func (s *System) submit(e *console.Event) error {
	if e.Key() != console.KeyEnter {
		return nil
	}
	s.history.Submit(e.Raw())
	e.AddCascade(console.NewPreInput(e.Raw()))
	return nil
}

func (s *System) scroll(e *console.Event) error {
	switch e.Key() {
	case console.KeyPageUp:
		s.ctrl.ScrollUp()
	case console.KeyPageDown:
		s.ctrl.ScrollDown()
	}
	return nil
}

func (s *System) historyBack(e *console.Event) error {
	if e.Key() != console.KeyUp {
		return nil
	}
	if line, ok := s.history.Back(e.Raw()); ok {
		e.SetInput = true
		e.Input = line
	}
	return nil
}

func (s *System) historyForward(e *console.Event) error {
	if e.Key() != console.KeyDown {
		return nil
	}
	if line, ok := s.history.Forward(e.Raw()); ok {
		e.SetInput = true
		e.Input = line
	}
	return nil
}
