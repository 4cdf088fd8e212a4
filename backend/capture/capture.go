package capture

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLead is how far in the future a capture is scheduled. It has to
// exceed realistic signaling plus clock-sync latency so both peers can arm
// a local timer for the same absolute instant.
const DefaultLead = 2000 * time.Millisecond

// Session is one synchronized capture event. SessionID correlates the
// composed image produced later by the stitch service; FireAt is the
// absolute server time both peers shoot at.
type Session struct {
	ID     string
	FireAt time.Time
}

// Coordinator mints capture sessions. Stateless apart from its clock.
type Coordinator struct {
	lead time.Duration
	now  func() time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		lead: DefaultLead,
		now:  time.Now,
	}
}

// NewSession schedules a capture at now + lead under a fresh session id.
func (c *Coordinator) NewSession() Session {
	return Session{
		ID:     uuid.NewString(),
		FireAt: c.now().Add(c.lead),
	}
}
