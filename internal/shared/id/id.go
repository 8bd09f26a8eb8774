// Package id provides prefixed, time-sortable identifiers for sessions,
// viewers, leases and requests.
//
// IDs are ULIDs with a short type prefix (sess_*, view_*, lease_*, req_*) so
// log lines identify what an ID refers to at a glance.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies the sandbox instance.
type SessionID string

// ViewerID identifies one framebuffer viewer connection.
type ViewerID string

// LeaseID identifies one automation lease grant.
type LeaseID string

// RequestID identifies a control API request.
type RequestID string

const (
	SessionPrefix = "sess"
	ViewerPrefix  = "view"
	LeasePrefix   = "lease"
	RequestPrefix = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source,
// useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

func NewSessionID() SessionID { return SessionID(Default().GenerateWithPrefix(SessionPrefix)) }
func NewViewerID() ViewerID   { return ViewerID(Default().GenerateWithPrefix(ViewerPrefix)) }
func NewLeaseID() LeaseID     { return LeaseID(Default().GenerateWithPrefix(LeasePrefix)) }
func NewRequestID() RequestID { return RequestID(Default().GenerateWithPrefix(RequestPrefix)) }

func (id SessionID) String() string { return string(id) }
func (id ViewerID) String() string  { return string(id) }
func (id LeaseID) String() string   { return string(id) }
func (id RequestID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the creation time from a plain or prefixed ID.
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
