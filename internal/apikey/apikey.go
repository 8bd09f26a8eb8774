package apikey

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
)

// Prefix starts every generated key.
const Prefix = "bbx_"

const secretBytes = 32

// ErrNotFound means no key has the given id.
var ErrNotFound = errors.New("api key not found")

// APIKey is the public view of a key. It never carries the secret.
type APIKey struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Active     bool      `json:"active"`
	LastUsed   time.Time `json:"last_used,omitempty"`
	UsageCount int64     `json:"usage_count"`
}

type entry struct {
	APIKey
	hash []byte
}

// Options configures a Store.
type Options struct {
	// Cost is the bcrypt cost. Zero means bcrypt.DefaultCost.
	Cost          int
	DefaultExpiry time.Duration
	Now           func() time.Time
	Logger        *logging.Logger
}

// Store holds keys in memory.
type Store struct {
	opts  Options
	log   *logging.Logger
	dummy []byte
	// compare is bcrypt.CompareHashAndPassword outside tests.
	compare func(hash, secret []byte) error

	mu   sync.Mutex
	keys map[string]*entry
}

// NewStore creates an empty key store.
func NewStore(opts Options) (*Store, error) {
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	secret, err := randomString(secretBytes)
	if err != nil {
		return nil, err
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(secret), opts.Cost)
	if err != nil {
		return nil, fmt.Errorf("hashing dummy secret: %w", err)
	}

	return &Store{
		opts:    opts,
		log:     opts.Logger.Component("apikey"),
		dummy:   dummy,
		compare: bcrypt.CompareHashAndPassword,
		keys:    make(map[string]*entry),
	}, nil
}

// Generate issues a key valid for expiresIn (0 means the default expiry).
// The returned string is the only copy of the secret.
func (s *Store) Generate(expiresIn time.Duration) (string, APIKey, error) {
	if expiresIn <= 0 {
		expiresIn = s.opts.DefaultExpiry
	}

	id := uuid.NewString()
	secret, err := randomString(secretBytes)
	if err != nil {
		return "", APIKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.opts.Cost)
	if err != nil {
		return "", APIKey{}, fmt.Errorf("hashing secret: %w", err)
	}

	now := s.opts.Now()
	e := &entry{
		APIKey: APIKey{
			ID:        id,
			CreatedAt: now,
			ExpiresAt: now.Add(expiresIn),
			Active:    true,
		},
		hash: hash,
	}

	s.mu.Lock()
	s.keys[id] = e
	info := e.APIKey
	s.mu.Unlock()

	s.log.Info("API key created", zap.String("id", id), zap.Time("expires_at", info.ExpiresAt))
	return Prefix + id + "_" + secret, info, nil
}

// Parse splits a key into id and secret.
func Parse(key string) (id, secret string, ok bool) {
	rest, found := strings.CutPrefix(key, Prefix)
	if !found {
		return "", "", false
	}
	id, secret, found = strings.Cut(rest, "_")
	if !found || uuid.Validate(id) != nil || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

// Validate checks a key and records its use. Every failure is the same
// ErrAuthFailure.
func (s *Store) Validate(key string) (APIKey, error) {
	id, secret, ok := Parse(key)

	hash := s.dummy
	var e *entry
	if ok {
		s.mu.Lock()
		if found, exists := s.keys[id]; exists {
			e = found
			hash = found.hash
		}
		s.mu.Unlock()
	}

	matched := s.compare(hash, []byte(secret)) == nil
	if !ok || e == nil || !matched {
		return APIKey{}, errs.ErrAuthFailure
	}

	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Active && now.After(e.ExpiresAt) {
		e.Active = false
		s.log.Info("API key expired", zap.String("id", id))
	}
	if !e.Active {
		return APIKey{}, errs.ErrAuthFailure
	}
	e.LastUsed = now
	e.UsageCount++
	return e.APIKey, nil
}

// Revoke deactivates a key by id.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	e, ok := s.keys[id]
	if ok {
		e.Active = false
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.log.Info("API key revoked", zap.String("id", id))
	return nil
}

// Rotate validates key, issues a replacement with the default expiry and
// revokes the old one.
func (s *Store) Rotate(key string) (string, APIKey, error) {
	old, err := s.Validate(key)
	if err != nil {
		return "", APIKey{}, err
	}
	newKey, info, err := s.Generate(0)
	if err != nil {
		return "", APIKey{}, err
	}
	if err := s.Revoke(old.ID); err != nil {
		return "", APIKey{}, err
	}
	return newKey, info, nil
}

// Info returns one key's metadata.
func (s *Store) Info(id string) (APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.keys[id]
	if !ok {
		return APIKey{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.APIKey, nil
}

// ListActive returns unexpired active keys, oldest first.
func (s *Store) ListActive() []APIKey {
	now := s.opts.Now()

	s.mu.Lock()
	out := make([]APIKey, 0, len(s.keys))
	for _, e := range s.keys {
		if e.Active && !now.After(e.ExpiresAt) {
			out = append(out, e.APIKey)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
