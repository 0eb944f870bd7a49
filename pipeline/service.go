// ABOUTME: Pipeline service owning every client and activity mutation
// ABOUTME: Serializes writes per client and delegates persistence to the db.Store
package pipeline

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/harperreed/funnel/db"
)

type Service struct {
	store  *db.Store
	logger *log.Logger
	now    func() time.Time
	locks  *keyedMutex
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store *db.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.New(io.Discard),
		now:    func() time.Time { return time.Now().UTC() },
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying repositories for read-only consumers.
func (s *Service) Store() *db.Store {
	return s.store
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
