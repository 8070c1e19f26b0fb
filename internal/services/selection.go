package services

import (
	"sync"

	"github.com/mailzero/mailzero/internal/mail"
)

// SelectionMode is how a list activation changes the selection
type SelectionMode int

const (
	ModeSingle SelectionMode = iota
	ModeMass
	ModeRange
	ModeSelectAllBelow
)

func (m SelectionMode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMass:
		return "mass"
	case ModeRange:
		return "range"
	case ModeSelectAllBelow:
		return "selectAllBelow"
	default:
		return "unknown"
	}
}

// Modifiers are the keys held during an activation
type Modifiers struct {
	Meta    bool
	Control bool
	Shift   bool
	Alt     bool
}

// ModeFromModifiers computes the mode once per interaction.
// Alt+Shift wins over Shift so select-all-below stays reachable.
func ModeFromModifiers(m Modifiers) SelectionMode {
	switch {
	case m.Meta || m.Control:
		return ModeMass
	case m.Alt && m.Shift:
		return ModeSelectAllBelow
	case m.Shift:
		return ModeRange
	default:
		return ModeSingle
	}
}

// Selection is the bulk-action selection plus the open-thread reference.
// It is owned by the view controller and handed to the components that need it.
type Selection struct {
	mu       sync.Mutex
	ids      []string
	set      map[string]struct{}
	open     string
	watchers []func([]string)
}

// NewSelection returns an empty selection
func NewSelection() *Selection {
	return &Selection{set: make(map[string]struct{})}
}

// AddWatcher registers a callback invoked with the ids after every change
func (s *Selection) AddWatcher(fn func(ids []string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

func (s *Selection) notifyLocked() {
	ids := append([]string(nil), s.ids...)
	watchers := append([]func([]string){}, s.watchers...)
	s.mu.Unlock()
	for _, w := range watchers {
		w(ids)
	}
}

// IDs returns the selected ids in selection order
func (s *Selection) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// Len returns the number of selected ids
func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Contains reports whether id is selected
func (s *Selection) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[id]
	return ok
}

// OpenThread returns the id of the thread opened by a single activation
func (s *Selection) OpenThread() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// SetOpenThread replaces the open-thread reference
func (s *Selection) SetOpenThread(id string) {
	s.mu.Lock()
	s.open = id
	s.mu.Unlock()
}

// Clear empties the selection; the open thread is kept
func (s *Selection) Clear() {
	s.mu.Lock()
	s.replaceLocked(nil)
	s.notifyLocked()
}

func (s *Selection) replaceLocked(ids []string) {
	s.ids = s.ids[:0]
	s.set = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := s.set[id]; dup {
			continue
		}
		s.set[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
}

// Activate applies one list activation of item against the displayed list
func (s *Selection) Activate(mode SelectionMode, item mail.Thread, displayed []mail.Thread) {
	id := item.Key()
	s.mu.Lock()
	switch mode {
	case ModeSingle:
		s.replaceLocked(nil)
		if s.open == id {
			s.open = ""
		} else {
			s.open = id
		}
	case ModeMass:
		if _, ok := s.set[id]; ok {
			s.removeLocked(id)
		} else {
			s.set[id] = struct{}{}
			s.ids = append(s.ids, id)
		}
	case ModeRange:
		anchor := id
		if n := len(s.ids); n > 0 {
			anchor = s.ids[n-1]
		} else if s.open != "" {
			anchor = s.open
		}
		i, j := indexOf(displayed, anchor), indexOf(displayed, id)
		if i < 0 || j < 0 {
			s.mu.Unlock()
			return
		}
		if i > j {
			i, j = j, i
		}
		s.replaceLocked(keysOf(displayed[i : j+1]))
	case ModeSelectAllBelow:
		i := indexOf(displayed, id)
		if i < 0 {
			s.mu.Unlock()
			return
		}
		s.replaceLocked(keysOf(displayed[i:]))
	default:
		s.mu.Unlock()
		return
	}
	s.notifyLocked()
}

func (s *Selection) removeLocked(id string) {
	delete(s.set, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}

// SelectAll toggles between nothing and everything displayed. With nothing
// displayed and nothing selected it changes nothing and returns false.
func (s *Selection) SelectAll(displayed []mail.Thread) bool {
	s.mu.Lock()
	if len(s.ids) > 0 {
		s.replaceLocked(nil)
		s.notifyLocked()
		return true
	}
	if len(displayed) == 0 {
		s.mu.Unlock()
		return false
	}
	s.replaceLocked(keysOf(displayed))
	s.notifyLocked()
	return true
}

func indexOf(threads []mail.Thread, id string) int {
	for i, t := range threads {
		if t.Key() == id {
			return i
		}
	}
	return -1
}

func keysOf(threads []mail.Thread) []string {
	ids := make([]string, len(threads))
	for i, t := range threads {
		ids[i] = t.Key()
	}
	return ids
}
