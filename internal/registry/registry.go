// Package registry keeps the set of accessories exposed to the hosts and
// gives every logical device the same identity on every run.
package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daemonp/elkm1bridge/internal/cache"
	"github.com/daemonp/elkm1bridge/internal/log"
)

var ErrEmptyIdentity = errors.New("empty accessory identity")

// namespace scopes the name-based UUIDs of this bridge.
var namespace = uuid.MustParse("7c1b2f4e-5a3d-4e8f-9b6a-e1c0d2f3a4b5")

// Device is the state machine bound to an accessory. Close releases any
// timers it still holds.
type Device interface {
	Close()
}

// UUID derives the accessory UUID for an identity such as "Contact14".
func UUID(identity string) string {
	return uuid.NewSHA1(namespace, []byte(identity)).String()
}

type Handle struct {
	uuid     string
	identity string
	aid      uint64

	mu          sync.RWMutex
	displayName string
	device      Device
	restored    bool
}

func (h *Handle) UUID() string     { return h.uuid }
func (h *Handle) Identity() string { return h.identity }

// AccessoryID is a stable numeric id for hosts that need one. Ids 0 and 1
// are reserved by HomeKit bridges.
func (h *Handle) AccessoryID() uint64 {
	return h.aid
}

func (h *Handle) DisplayName() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.displayName
}

func (h *Handle) Device() Device {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.device
}

// Restored reports whether the accessory was already known when it was
// last upserted.
func (h *Handle) Restored() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.restored
}

func (h *Handle) replace(displayName string, device Device, restored bool) {
	h.mu.Lock()
	previous := h.device
	h.displayName = displayName
	h.device = device
	h.restored = restored
	h.mu.Unlock()

	if previous != nil && previous != device {
		previous.Close()
	}
}

type Registry struct {
	store *cache.Store
	log   *log.Logger
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cache.Entry
	handles map[string]*Handle
}

// New returns a registry persisting to store. A nil store keeps everything
// in memory.
func New(store *cache.Store, logger *log.Logger) *Registry {
	return &Registry{
		store:   store,
		log:     logger,
		now:     time.Now,
		entries: make(map[string]cache.Entry),
		handles: make(map[string]*Handle),
	}
}

// Load reads previously registered accessories from the store.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}

	data, err := r.store.Load()
	if err != nil {
		return err
	}
	if data == nil {
		r.log.Debug("No accessory cache at %s", r.store.Path())
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range data.Accessories {
		r.log.Info("Loading accessory from cache: %s", e.DisplayName)
		r.entries[e.UUID] = e
	}
	return nil
}

// Upsert binds device to the accessory for identity. A known accessory keeps
// its handle and has its device replaced; an unknown one is created and
// persisted.
func (r *Registry) Upsert(identity, displayName string, device Device) (*Handle, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}

	id := UUID(identity)
	now := r.now()

	r.mu.Lock()
	entry, known := r.entries[id]
	if known {
		r.log.Info("Restoring existing accessory from cache: %s", entry.DisplayName)
	} else {
		r.log.Info("Adding new accessory: %s", displayName)
		entry = cache.Entry{UUID: id, Identity: identity, Added: now}
	}
	entry.DisplayName = displayName
	entry.LastSeen = now
	r.entries[id] = entry

	h, ok := r.handles[id]
	if !ok {
		h = &Handle{uuid: id, identity: identity, aid: AccessoryID(identity)}
		r.handles[id] = h
	}
	r.mu.Unlock()

	h.replace(displayName, device, known)

	if !known {
		if err := r.Save(); err != nil {
			r.log.Warn("Failed to persist accessory %s: %v", displayName, err)
		}
	}
	return h, nil
}

func (r *Registry) Get(identity string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[UUID(identity)]
	return h, ok
}

// Handles returns the accessories bound in this run, ordered by identity.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].identity < handles[j].identity
	})
	return handles
}

// Save writes every known accessory, including cached ones not seen in this
// run, since removal is left to the user.
func (r *Registry) Save() error {
	if r.store == nil {
		return nil
	}

	r.mu.RLock()
	data := cache.Data{Accessories: make([]cache.Entry, 0, len(r.entries))}
	for _, e := range r.entries {
		data.Accessories = append(data.Accessories, e)
	}
	r.mu.RUnlock()

	sort.Slice(data.Accessories, func(i, j int) bool {
		return data.Accessories[i].Identity < data.Accessories[j].Identity
	})

	if err := r.store.Save(data); err != nil {
		return fmt.Errorf("failed to save accessory cache: %w", err)
	}
	return nil
}

// Close releases the devices of every handle.
func (r *Registry) Close() {
	for _, h := range r.Handles() {
		h.replace(h.DisplayName(), nil, h.Restored())
	}
}

// AccessoryID derives the numeric accessory id for an identity.
func AccessoryID(identity string) uint64 {
	u := uuid.NewSHA1(namespace, []byte(identity))
	aid := uint64(binary.BigEndian.Uint32(u[:4]))
	if aid <= 1 {
		aid += 2
	}
	return aid
}
