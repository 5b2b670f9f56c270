// Package platform models the host application: lifecycle signals and the
// optional capability providers the engines read context from.
package platform

// Signal is a discrete lifecycle notification from the host application.
type Signal int

const (
	DidBecomeActive Signal = iota + 1
	DidEnterBackground
	LocaleChanged
)

func (s Signal) String() string {
	switch s {
	case DidBecomeActive:
		return "did_become_active"
	case DidEnterBackground:
		return "did_enter_background"
	case LocaleChanged:
		return "locale_changed"
	default:
		return "unknown"
	}
}

// AppState is the last known foreground state of the host application.
type AppState int

const (
	StateActive AppState = iota
	StateBackground
)

func (s AppState) String() string {
	if s == StateBackground {
		return "background"
	}
	return "active"
}
