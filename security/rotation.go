package security

import "time"

// RotationWindow gates when a superseded secret is still accepted. While the
// window is open, verification candidates include the previous secret so
// upstreams migrating to a new key keep delivering.
type RotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w RotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}
