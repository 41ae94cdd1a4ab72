package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// idSource assigns entity ids and creation timestamps. Tests replace clock to
// pin creation order.
type idSource struct {
	clock func() time.Time
}

func newIDSource() *idSource {
	return &idSource{clock: time.Now}
}

func (s *idSource) now() time.Time { return s.clock().UTC() }

func (s *idSource) userID() string { return uuid.NewString() }

func (s *idSource) lineID() string { return ksuid.New().String() }
