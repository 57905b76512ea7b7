package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named native module is administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutating calls into a paused module. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauseView is a fixed pause set, typically loaded from configuration.
type StaticPauseView map[string]struct{}

// NewStaticPauseView builds a pause view from a list of module names.
func NewStaticPauseView(modules []string) StaticPauseView {
	view := make(StaticPauseView, len(modules))
	for _, m := range modules {
		view[m] = struct{}{}
	}
	return view
}

// IsPaused implements the PauseView interface.
func (v StaticPauseView) IsPaused(module string) bool {
	_, ok := v[module]
	return ok
}
