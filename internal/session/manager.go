package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"splat-notifyer/internal/config"
	"splat-notifyer/internal/constants"
	"splat-notifyer/internal/form"
	"splat-notifyer/internal/refdata"
	"splat-notifyer/internal/timewindow"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Manager rebuilds a form.Session for each event and writes it back, holding a
// per-session lock so events on one session never interleave.
type Manager struct {
	store  Store
	refs   *refdata.Provider
	remote form.Remote
	opts   form.Options
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*keyedLock
	// inflight marks sessions running a network-bound event.
	inflight map[string]bool
}

func NewManager(store Store, refs *refdata.Provider, remote form.Remote, opts form.Options, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		refs:     refs,
		remote:   remote,
		opts:     opts,
		logger:   logger,
		locks:    make(map[string]*keyedLock),
		inflight: make(map[string]bool),
	}
}

// NewStore picks the backing store from configuration.
func NewStore(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	if cfg.SessionStore != "redis" {
		return NewMemoryStore(cfg.SessionTTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("connected to Redis session store")
	return NewRedisStore(client, cfg.SessionTTL, logger), nil
}

// FormOptions derives display options for sessions from configuration.
func FormOptions(cfg *config.Config) (form.Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return form.Options{}, err
	}
	format, err := timewindow.ParseValueFormat(cfg.SlotFormat)
	if err != nil {
		return form.Options{}, err
	}
	return form.Options{SlotFormat: format, Location: loc, PadHour: cfg.PadHour}, nil
}

func (m *Manager) acquire(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyedLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		release()
	}
}

// Close releases the backing store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Create starts a session with an optional prefilled webhook URL.
func (m *Manager) Create(ctx context.Context, webhookURL string) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	st := &form.State{WebhookURL: webhookURL}
	if err := m.store.Save(ctx, id, st); err != nil {
		return "", err
	}
	m.logger.Info().Str("session_id", id).Msg("form session created")
	return id, nil
}

// Update runs fn against the session and persists the result, also when fn
// fails, since failed events still change feedback state.
func (m *Manager) Update(ctx context.Context, id string, fn func(*form.Session) error) error {
	unlock := m.acquire(id)
	defer unlock()
	return m.run(ctx, id, fn)
}

// TryUpdate is Update for network-bound events. While one is running on a
// session, another returns form.ErrBusy instead of queueing behind it; other
// events only wait for the lock as usual.
func (m *Manager) TryUpdate(ctx context.Context, id string, fn func(*form.Session) error) error {
	m.mu.Lock()
	if m.inflight[id] {
		m.mu.Unlock()
		return form.ErrBusy
	}
	m.inflight[id] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}()

	unlock := m.acquire(id)
	defer unlock()
	return m.run(ctx, id, fn)
}

// Read runs fn without persisting.
func (m *Manager) Read(ctx context.Context, id string, fn func(*form.Session) error) error {
	unlock := m.acquire(id)
	defer unlock()

	sess, err := m.open(ctx, id)
	if err != nil {
		return err
	}
	return fn(sess)
}

func (m *Manager) run(ctx context.Context, id string, fn func(*form.Session) error) error {
	sess, err := m.open(ctx, id)
	if err != nil {
		return err
	}

	fnErr := fn(sess)
	if err := m.store.Save(ctx, id, sess.State()); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

func (m *Manager) open(ctx context.Context, id string) (*form.Session, error) {
	st, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	refs, err := m.refs.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	logger := m.logger.With().Str("session_id", id).Logger()
	return form.NewSession(st, refs, m.remote, m.opts, logger), nil
}
