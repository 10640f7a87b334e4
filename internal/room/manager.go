// Package room manages ephemeral TTL-bounded execution contexts.
//
// Rooms are disposable: they never merge back into durable state,
// and DESTROYED/EXPIRED are absorbing terminal states. Expiry is derived
// from the clock and observed lazily on read rather than actively
// scheduled; an optional sweeper (see sweeper.go) marks expired rooms in
// the background but is never required for correctness.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/model"
)

var (
	// ErrNotFound is returned when a room identifier does not exist.
	ErrNotFound = errors.New("room: not found")
	// ErrTerminalState is returned when activating a DESTROYED or EXPIRED room.
	ErrTerminalState = errors.New("room: terminal state")
)

// Manager holds all rooms in a mutex-guarded table. The lazy expiry rewrite
// on read is a mutation and runs under the same lock as activate/destroy,
// with a terminal-state check, so destruction always wins once applied.
type Manager struct {
	log    audit.Appender
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]model.Room

	now func() time.Time
}

// NewManager creates an empty room manager.
func NewManager(log audit.Appender, logger *slog.Logger) *Manager {
	return &Manager{
		log:    log,
		logger: logger,
		rooms:  make(map[uuid.UUID]model.Room),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create allocates a room with the given TTL, clamped to at least
// model.MinRoomTTL. The room starts in CREATED.
func (m *Manager) Create(ctx context.Context, scope, mode string, ttl time.Duration, requestID string) (model.Room, error) {
	if ttl < model.MinRoomTTL {
		ttl = model.MinRoomTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	r := model.Room{
		ID:        uuid.New(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Scope:     scope,
		Mode:      mode,
		State:     model.RoomStateCreated,
		RequestID: requestID,
	}

	if err := m.log.Append(ctx, audit.Event{
		Kind:   audit.KindRoomCreated,
		RoomID: r.ID.String(),
	}); err != nil {
		return model.Room{}, err
	}

	m.rooms[r.ID] = r
	m.logger.Info("room created", "room_id", r.ID, "scope", scope, "mode", mode, "expires_at", r.ExpiresAt)
	return r, nil
}

// Get returns the room, applying lazy expiry: a non-terminal room past its
// expires_at is rewritten to EXPIRED before returning. A DESTROYED room is
// never touched.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx, id)
}

// Activate transitions CREATED/ACTIVE → ACTIVE. It fails on rooms that have
// already dissolved.
func (m *Manager) Activate(ctx context.Context, id uuid.UUID) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.getLocked(ctx, id)
	if err != nil {
		return model.Room{}, err
	}
	if r.State.Terminal() {
		return model.Room{}, ErrTerminalState
	}

	if err := m.log.Append(ctx, audit.Event{
		Kind:   audit.KindRoomActivated,
		RoomID: id.String(),
	}); err != nil {
		return model.Room{}, err
	}

	r.State = model.RoomStateActive
	m.rooms[id] = r
	return r, nil
}

// Destroy forces the room to DESTROYED regardless of prior state, including
// an already-EXPIRED room. One-way dissolution: close is always safe to
// call, and nothing ever leaves DESTROYED.
func (m *Manager) Destroy(ctx context.Context, id uuid.UUID) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[id]
	if !ok {
		return model.Room{}, ErrNotFound
	}

	if err := m.log.Append(ctx, audit.Event{
		Kind:   audit.KindRoomDestroyed,
		RoomID: id.String(),
	}); err != nil {
		return model.Room{}, err
	}

	r.State = model.RoomStateDestroyed
	m.rooms[id] = r
	m.logger.Info("room destroyed", "room_id", id)
	return r, nil
}

// getLocked applies lazy expiry. Caller must hold m.mu.
func (m *Manager) getLocked(ctx context.Context, id uuid.UUID) (model.Room, error) {
	r, ok := m.rooms[id]
	if !ok {
		return model.Room{}, ErrNotFound
	}
	if !r.State.Terminal() && m.now().After(r.ExpiresAt) {
		if err := m.log.Append(ctx, audit.Event{
			Kind:   audit.KindRoomExpired,
			RoomID: id.String(),
		}); err != nil {
			return model.Room{}, err
		}
		r.State = model.RoomStateExpired
		m.rooms[id] = r
		m.logger.Info("room expired", "room_id", id)
	}
	return r, nil
}

// sweepExpired marks every non-terminal room past its deadline as EXPIRED.
// It never touches a DESTROYED room and never un-expires anything.
func (m *Manager) sweepExpired(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	swept := 0
	for id, r := range m.rooms {
		if r.State.Terminal() || !now.After(r.ExpiresAt) {
			continue
		}
		if err := m.log.Append(ctx, audit.Event{
			Kind:   audit.KindRoomExpired,
			RoomID: id.String(),
		}); err != nil {
			m.logger.Error("sweep: audit append failed, leaving room for lazy expiry", "room_id", id, "error", err)
			continue
		}
		r.State = model.RoomStateExpired
		m.rooms[id] = r
		swept++
	}
	return swept
}
