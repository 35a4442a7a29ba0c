// Package hostenv implements the environment/role seam (spec §4.9): it
// isolates the compression core from everything host-specific — node
// role, dictionary publication to other nodes, and dictionary-id
// allocation — so the core never assumes a particular deployment
// topology.
package hostenv

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Role is the node's replication role (spec §4.9 "role ∈ {undefined,
// leader, follower}").
type Role int

const (
	RoleUndefined Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return "undefined"
	}
}

// roleChanger is the subset of *engine.Engine the seam needs: invoking
// on_role_change. hostenv does not import the engine package; this
// interface keeps the seam decoupled from the engine's concrete type
// and lets tests substitute a fake.
type roleChanger interface {
	OnRoleChange(ctx context.Context, isLeader bool)
}

// reloader triggers a dictionary-directory rescan and republish.
type reloader interface {
	Reload() (ReloadStatus, error)
}

// ReloadStatus mirrors engine.ReloadStatus without importing engine
// (hostenv stays engine-agnostic; the concrete wiring is the
// reloadAdapter in the cachecomp package).
type ReloadStatus struct {
	Loaded, New, Reused, Failed int
}

// DictPublisherFunc is the optional callback invoked when the trainer
// publishes a new dictionary (spec §4.9 "set_dict_publisher" / spec §6
// "Publisher callback signature"). Implementations must be safe to
// call from background goroutines.
type DictPublisherFunc func(dictID uint16, fileName string, dictBytes, manifestBytes []byte) error

// DictIDProvider is the optional replacement for the default in-process
// id allocator (spec §4.9 "set_dict_id_provider"). Implementations must
// be thread-safe.
type DictIDProvider interface {
	Alloc() (uint16, error)
	Release(id uint16) error
}

// Env is the concrete environment/role seam. The zero value is not
// usable; construct with New.
type Env struct {
	log *zap.Logger

	mu         sync.RWMutex
	role       Role
	dictDir    string
	publisher  DictPublisherFunc
	idProvider DictIDProvider

	engine  roleChanger
	reload  reloader
	idsUsed func() map[uint16]bool

	watcher *dirWatcher
}

// New constructs an environment seam for a dictionary directory. engine
// and reload are attached once the engine exists (see AttachEngine,
// called from cachecomp.New); idsUsed
// lets the default id provider see which ids are currently active.
func New(log *zap.Logger, dictDir string, idsUsed func() map[uint16]bool) *Env {
	if log == nil {
		log = zap.NewNop()
	}
	return &Env{
		log:        log,
		dictDir:    dictDir,
		idsUsed:    idsUsed,
		idProvider: nil, // nil => built-in allocator, see AllocDictID
	}
}

// AttachEngine wires the engine whose on_role_change gets called on
// every role transition, and the reload hook env_reload_dicts invokes.
func (e *Env) AttachEngine(eng roleChanger, reload reloader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engine = eng
	e.reload = reload
}

// SetNodeRole implements spec §4.9 "set_node_role": when the role
// actually changes, invoke the engine's on_role_change.
func (e *Env) SetNodeRole(ctx context.Context, role Role) {
	e.mu.Lock()
	prev := e.role
	e.role = role
	eng := e.engine
	e.mu.Unlock()

	if prev == role || eng == nil {
		return
	}
	e.log.Info("node role changed", zap.String("from", prev.String()), zap.String("to", role.String()))
	eng.OnRoleChange(ctx, role == RoleLeader)
}

// Role returns the current node role.
func (e *Env) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// SetDictPublisher installs the optional publish callback. A nil fn
// restores the no-publisher, no-op-success behavior.
func (e *Env) SetDictPublisher(fn DictPublisherFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = fn
}

// SetDictIDProvider installs the optional id allocator/releaser.
func (e *Env) SetDictIDProvider(p DictIDProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idProvider = p
}

// EnvPublishDict implements spec §4.9 "env_publish_dict": forward a
// freshly trained dictionary to the installed publisher, if any. No
// publisher installed is treated as a no-op success (single-node
// cache, spec §4.9).
func (e *Env) EnvPublishDict(dictID uint16, fileName string, dictBytes, manifestBytes []byte) error {
	e.mu.RLock()
	pub := e.publisher
	e.mu.RUnlock()
	if pub == nil {
		return nil
	}
	if err := pub(dictID, fileName, dictBytes, manifestBytes); err != nil {
		return fmt.Errorf("hostenv: publish dictionary %d: %w", dictID, err)
	}
	return nil
}

// EnvAllocDictID implements spec §4.9 "env_alloc_dict_id": use the
// installed provider if present, else the built-in allocator that
// picks the lowest id not currently in use.
func (e *Env) EnvAllocDictID() (uint16, error) {
	e.mu.RLock()
	p := e.idProvider
	idsUsed := e.idsUsed
	e.mu.RUnlock()

	if p != nil {
		return p.Alloc()
	}
	return defaultAllocDictID(idsUsed)
}

// EnvReleaseDictID implements spec §4.9 "env_release_dict_id".
func (e *Env) EnvReleaseDictID(id uint16) error {
	e.mu.RLock()
	p := e.idProvider
	e.mu.RUnlock()
	if p != nil {
		return p.Release(id)
	}
	return nil // built-in allocator has no reservation state to release
}

// EnvGetDictDir implements spec §4.9 "env_get_dict_dir".
func (e *Env) EnvGetDictDir() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dictDir
}

// EnvReloadDicts implements spec §4.9 "env_reload_dicts".
func (e *Env) EnvReloadDicts() (ReloadStatus, error) {
	e.mu.RLock()
	r := e.reload
	e.mu.RUnlock()
	if r == nil {
		return ReloadStatus{}, fmt.Errorf("hostenv: no reload hook attached")
	}
	return r.Reload()
}

var idAllocMu sync.Mutex

// defaultAllocDictID picks the lowest id in 1..65535 not reported as in
// use. The global mutex keeps concurrent trainer/administrative calls
// (there is normally exactly one trainer, but tests may call this
// directly) from racing onto the same id.
func defaultAllocDictID(idsUsed func() map[uint16]bool) (uint16, error) {
	idAllocMu.Lock()
	defer idAllocMu.Unlock()

	var used map[uint16]bool
	if idsUsed != nil {
		used = idsUsed()
	}
	for id := 1; id <= 65535; id++ {
		if !used[uint16(id)] {
			return uint16(id), nil
		}
	}
	return 0, fmt.Errorf("hostenv: no free dictionary id in 1..65535")
}
