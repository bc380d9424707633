// Package history keeps a SQLite log of finished sessions so runs can be
// compared later without grepping log files.
package history

import "github.com/brensch/sf2bot/session"

// FromResult fills the fields every session has. Callers add decision counts
// or dataset details.
func FromResult(mode string, seat int, res session.Result) Session {
	s := Session{
		ID:        res.ID,
		Mode:      mode,
		Seat:      seat,
		Reason:    res.Reason.String(),
		Frames:    res.Frames,
		StartedAt: res.Started,
		EndedAt:   res.Ended,
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}
