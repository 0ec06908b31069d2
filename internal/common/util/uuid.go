package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
var m sync.Mutex

// NewULID returns a lower-case, time-ordered id. Event and record ids use it so that
// ids created by one driver sort in creation order.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewUUID returns a random id for things that must not be ordered, e.g. process and session ids.
func NewUUID() string {
	return uuid.New().String()
}
