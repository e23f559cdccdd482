package keys

import (
	"sort"

	"github.com/gdamore/tcell/v2"
)

// Action is one key binding with its handler.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether the event triggers this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds key bindings, global and per page.
type Registry struct {
	global map[string]*Action
	pages  map[string]map[string]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		global: make(map[string]*Action),
		pages:  make(map[string]map[string]*Action),
	}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global[name] = action
}

// AddPage registers a binding active only on the named page.
func (r *Registry) AddPage(page, name string, action *Action) {
	if r.pages[page] == nil {
		r.pages[page] = make(map[string]*Action)
	}
	r.pages[page][name] = action
}

// Hints returns the visible binding descriptions for a page, sorted for a
// stable status line.
func (r *Registry) Hints(page string) []string {
	var hints []string
	for _, a := range r.pages[page] {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	for _, a := range r.global {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	sort.Strings(hints)
	return hints
}

// HandleEvent dispatches a key event. Page bindings shadow global ones.
// Returns true when a handler ran.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, a := range r.pages[page] {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
