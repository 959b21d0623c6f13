// Package classes manages the mutable taxonomy of annotation classes.
//
// Every class carries a unique identifier, a unique display name, a color used
// by the drawing layer and a default flag. Exactly one class is marked as
// default at any time; the default class absorbs detections whose label is not
// part of the taxonomy.
package classes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultColors is the palette cycled through when deriving colors for newly
// added classes. Colors repeat deterministically once the palette is exhausted.
var DefaultColors = []string{"#FF0000", "#00FF00", "#0000FF", "#FFFF00", "#00FFFF", "#FF00FF"}

// Sentinel errors for taxonomy operations.
var (
	ErrDuplicateUID    = errors.New("class with the same UID already exists")
	ErrDuplicateName   = errors.New("class with the same name already exists")
	ErrMultipleDefault = errors.New("only one class can be the default class")
	ErrUnknownUID      = errors.New("unknown class UID")
	ErrUnknownName     = errors.New("unknown class name")
	ErrEmptyStore      = errors.New("class store must contain at least one class")
)

// Class is one annotation category.
type Class struct {
	UID     int    `json:"uid"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Default bool   `json:"default"`
}

// Store owns the ordered sequence of classes. The order is significant for
// display and for "first class" tie-breaks when the default flag has to be
// repaired; it carries no further semantics.
type Store struct {
	classes []Class
}

// NewFromNames builds a store from plain class names. UIDs are assigned
// 0..n-1, colors are taken from the palette and the first class becomes the
// default.
func NewFromNames(names ...string) (*Store, error) {
	if len(names) == 0 {
		return nil, ErrEmptyStore
	}
	s := &Store{}
	for i, name := range names {
		if _, err := s.AddClass(i, name, s.NextColor(), i == 0); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewFromClasses builds a store from pre-built class records and repairs the
// single-default invariant: with no default marked the first class becomes
// default, with several marked only the first marked one is kept.
func NewFromClasses(cls []Class) (*Store, error) {
	if len(cls) == 0 {
		return nil, ErrEmptyStore
	}
	s := &Store{classes: make([]Class, len(cls))}
	copy(s.classes, cls)

	defaultIdx := -1
	for i := range s.classes {
		if s.classes[i].Default {
			defaultIdx = i
			break
		}
	}
	if defaultIdx == -1 {
		defaultIdx = 0
	}
	for i := range s.classes {
		s.classes[i].Default = i == defaultIdx
	}
	return s, nil
}

// AddClass appends a class to the store and returns the new record.
func (s *Store) AddClass(uid int, name, color string, isDefault bool) (Class, error) {
	for _, cls := range s.classes {
		if cls.UID == uid {
			return Class{}, ErrDuplicateUID
		}
		if cls.Name == name {
			return Class{}, ErrDuplicateName
		}
		if isDefault && cls.Default {
			return Class{}, ErrMultipleDefault
		}
	}
	cls := Class{UID: uid, Name: name, Color: color, Default: isDefault}
	s.classes = append(s.classes, cls)
	return cls, nil
}

// DeleteClass removes the class with the given UID. If the removed class was
// the default, the first remaining class becomes the new default. The store
// does not guard against deleting the last class; that policy belongs to the
// caller.
func (s *Store) DeleteClass(uid int) {
	kept := s.classes[:0]
	for _, cls := range s.classes {
		if cls.UID != uid {
			kept = append(kept, cls)
		}
	}
	s.classes = kept

	if len(s.classes) == 0 {
		return
	}
	for i := range s.classes {
		if s.classes[i].Default {
			return
		}
	}
	s.classes[0].Default = true
}

// ClassNames returns the class names in store order.
func (s *Store) ClassNames() []string {
	names := make([]string, len(s.classes))
	for i, cls := range s.classes {
		names[i] = cls.Name
	}
	return names
}

// ClassUIDs returns the class UIDs in store order.
func (s *Store) ClassUIDs() []int {
	uids := make([]int, len(s.classes))
	for i, cls := range s.classes {
		uids[i] = cls.UID
	}
	return uids
}

// NextColor returns the palette color a newly added class would receive. The
// choice is a pure function of the current class count so delete/re-add cycles
// cannot drift.
func (s *Store) NextColor() string {
	return DefaultColors[len(s.classes)%len(DefaultColors)]
}

// NextClassName derives a fresh "Class {n}" name, counting upward past any
// collisions with existing names.
func (s *Store) NextClassName() string {
	n := len(s.classes) + 1
	name := fmt.Sprintf("Class %d", n)
	for s.hasName(name) {
		n++
		name = fmt.Sprintf("Class %d", n)
	}
	return name
}

// NextUID returns the smallest UID exceeding every existing one, or 0 for an
// empty store.
func (s *Store) NextUID() int {
	next := 0
	for _, cls := range s.classes {
		if cls.UID >= next {
			next = cls.UID + 1
		}
	}
	return next
}

// DefaultUID returns the UID of the default class.
func (s *Store) DefaultUID() (int, error) {
	for _, cls := range s.classes {
		if cls.Default {
			return cls.UID, nil
		}
	}
	return 0, ErrEmptyStore
}

// SetDefaultUID marks the class with the given UID as the default and unsets
// the previous default.
func (s *Store) SetDefaultUID(uid int) error {
	idx := s.indexOfUID(uid)
	if idx == -1 {
		return fmt.Errorf("%w: %d", ErrUnknownUID, uid)
	}
	for i := range s.classes {
		s.classes[i].Default = i == idx
	}
	return nil
}

// DefaultClass returns the default class record.
func (s *Store) DefaultClass() (Class, error) {
	for _, cls := range s.classes {
		if cls.Default {
			return cls, nil
		}
	}
	return Class{}, ErrEmptyStore
}

// Color returns the color of the class with the given UID.
func (s *Store) Color(uid int) (string, error) {
	idx := s.indexOfUID(uid)
	if idx == -1 {
		return "", fmt.Errorf("%w: %d", ErrUnknownUID, uid)
	}
	return s.classes[idx].Color, nil
}

// Name returns the name of the class with the given UID.
func (s *Store) Name(uid int) (string, error) {
	idx := s.indexOfUID(uid)
	if idx == -1 {
		return "", fmt.Errorf("%w: %d", ErrUnknownUID, uid)
	}
	return s.classes[idx].Name, nil
}

// UID returns the unique identifier of the class with the given name.
func (s *Store) UID(name string) (int, error) {
	for _, cls := range s.classes {
		if cls.Name == name {
			return cls.UID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownName, name)
}

// ChangeName renames the classes identified by uids to the given names, in
// lockstep. The whole batch is validated before anything is written: list
// lengths must match, no new name may collide with an existing class name and
// the new names themselves must be free of duplicates.
func (s *Store) ChangeName(uids []int, names []string) error {
	if len(uids) != len(names) {
		return fmt.Errorf("number of UIDs (%d) and names (%d) do not match", len(uids), len(names))
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if s.hasName(name) {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("new class names must be unique: %q", name)
		}
		seen[name] = struct{}{}
	}
	indices := make([]int, len(uids))
	for i, uid := range uids {
		idx := s.indexOfUID(uid)
		if idx == -1 {
			return fmt.Errorf("%w: %d", ErrUnknownUID, uid)
		}
		indices[i] = idx
	}
	for i, idx := range indices {
		s.classes[idx].Name = names[i]
	}
	return nil
}

// ChangeColor updates the color of the class with the given UID.
func (s *Store) ChangeColor(uid int, color string) error {
	idx := s.indexOfUID(uid)
	if idx == -1 {
		return fmt.Errorf("%w: %d", ErrUnknownUID, uid)
	}
	s.classes[idx].Color = color
	return nil
}

// Classes returns a copy of the class records in store order.
func (s *Store) Classes() []Class {
	out := make([]Class, len(s.classes))
	copy(out, s.classes)
	return out
}

// At returns the class at the given position.
func (s *Store) At(idx int) Class {
	return s.classes[idx]
}

// Len reports the number of classes.
func (s *Store) Len() int {
	return len(s.classes)
}

func (s *Store) indexOfUID(uid int) int {
	for i, cls := range s.classes {
		if cls.UID == uid {
			return i
		}
	}
	return -1
}

func (s *Store) hasName(name string) bool {
	for _, cls := range s.classes {
		if cls.Name == name {
			return true
		}
	}
	return false
}

// String renders a short human-readable summary, mainly for debug logging.
func (s *Store) String() string {
	var b strings.Builder
	b.WriteString("classes[")
	for i, cls := range s.classes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(cls.UID))
		b.WriteString(":")
		b.WriteString(cls.Name)
		if cls.Default {
			b.WriteString("*")
		}
	}
	b.WriteString("]")
	return b.String()
}
