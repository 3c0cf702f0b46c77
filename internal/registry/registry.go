package registry

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const numShards = 32

var ErrUnknownHandle = errors.New("unknown connection handle")

// Handle identifies a registered connection.
type Handle string

// Conn is a client connection the registry can deliver frames to.
// Send must return once ctx is done.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Observer is notified when connections enter and leave the registry.
type Observer interface {
	Connected()
	Disconnected(reason string)
}

type entry struct {
	conn Conn

	mu     sync.Mutex
	closed bool
	assets map[string]struct{}
}

type shard struct {
	mu   sync.RWMutex
	subs map[string]map[Handle]struct{}
}

// Registry owns the set of live connections and their asset subscriptions.
// Subscription sets are sharded by asset id; no lock is held while a
// connection is written to or closed.
//
// entry.mu is taken before shard.mu. Registry.mu is never held together with
// either of them.
type Registry struct {
	mu    sync.RWMutex
	conns map[Handle]*entry

	shards [numShards]*shard

	observer Observer
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(observer Observer, logger *zap.Logger) *Registry {
	r := &Registry{
		conns:    make(map[Handle]*entry),
		observer: observer,
		logger:   logger,
	}
	for i := range r.shards {
		r.shards[i] = &shard{subs: make(map[string]map[Handle]struct{})}
	}
	return r
}

func (r *Registry) shardFor(assetID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(assetID))
	return r.shards[h.Sum32()%numShards]
}

// Register admits conn and returns its handle.
func (r *Registry) Register(conn Conn) Handle {
	h := Handle(uuid.New().String())
	e := &entry{conn: conn, assets: make(map[string]struct{})}

	r.mu.Lock()
	r.conns[h] = e
	total := len(r.conns)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.Connected()
	}
	r.logger.Info("Connection registered", zap.String("handle", string(h)), zap.Int("total", total))
	return h
}

// Unregister marks h closed, removes it from every subscription set and then
// from the global set, and closes the connection. Once it has started,
// Subscribe for h fails and no subscriber snapshot contains h. It reports
// whether this call did the removal; later calls for the same handle are
// no-ops.
func (r *Registry) Unregister(h Handle, reason string) bool {
	e := r.lookup(h)
	if e == nil {
		return false
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	for assetID := range e.assets {
		s := r.shardFor(assetID)
		s.mu.Lock()
		if set, ok := s.subs[assetID]; ok {
			delete(set, h)
			if len(set) == 0 {
				delete(s.subs, assetID)
			}
		}
		s.mu.Unlock()
	}
	e.assets = nil
	e.mu.Unlock()

	r.mu.Lock()
	delete(r.conns, h)
	total := len(r.conns)
	r.mu.Unlock()

	if err := e.conn.Close(); err != nil {
		r.logger.Debug("Close connection", zap.String("handle", string(h)), zap.Error(err))
	}
	if r.observer != nil {
		r.observer.Disconnected(reason)
	}
	r.logger.Info("Connection unregistered",
		zap.String("handle", string(h)),
		zap.String("reason", reason),
		zap.Int("total", total),
	)
	return true
}

func (r *Registry) lookup(h Handle) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[h]
}

// Subscribe adds h to assetID's subscribers. It returns false, doing nothing,
// when h is not registered.
func (r *Registry) Subscribe(h Handle, assetID string) bool {
	e := r.lookup(h)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.assets[assetID] = struct{}{}

	s := r.shardFor(assetID)
	s.mu.Lock()
	set, ok := s.subs[assetID]
	if !ok {
		set = make(map[Handle]struct{})
		s.subs[assetID] = set
	}
	set[h] = struct{}{}
	s.mu.Unlock()
	return true
}

// Unsubscribe removes h from assetID's subscribers. It returns false when h is
// not registered.
func (r *Registry) Unsubscribe(h Handle, assetID string) bool {
	e := r.lookup(h)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	delete(e.assets, assetID)

	s := r.shardFor(assetID)
	s.mu.Lock()
	if set, ok := s.subs[assetID]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(s.subs, assetID)
		}
	}
	s.mu.Unlock()
	return true
}

// SnapshotAll returns a copy of every registered handle.
func (r *Registry) SnapshotAll() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.conns))
	for h := range r.conns {
		out = append(out, h)
	}
	return out
}

// SnapshotSubscribers returns a copy of assetID's subscribers.
func (r *Registry) SnapshotSubscribers(assetID string) []Handle {
	s := r.shardFor(assetID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.subs[assetID]
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// Subscriptions returns the assets h is subscribed to.
func (r *Registry) Subscriptions(h Handle) []string {
	e := r.lookup(h)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.assets))
	for a := range e.assets {
		out = append(out, a)
	}
	return out
}

// Send writes frame to h's connection without holding any registry lock.
func (r *Registry) Send(ctx context.Context, h Handle, frame []byte) error {
	e := r.lookup(h)
	if e == nil {
		return ErrUnknownHandle
	}
	return e.conn.Send(ctx, frame)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close unregisters every connection.
func (r *Registry) Close() {
	for _, h := range r.SnapshotAll() {
		r.Unregister(h, "shutdown")
	}
}
