package hostenv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	calls []bool // records isLeader for each call
}

func (f *fakeEngine) OnRoleChange(ctx context.Context, isLeader bool) {
	f.calls = append(f.calls, isLeader)
}

type fakeReloader struct {
	status ReloadStatus
	err    error
	calls  int
}

func (f *fakeReloader) Reload() (ReloadStatus, error) {
	f.calls++
	return f.status, f.err
}

func TestSetNodeRoleCallsOnRoleChangeOnlyOnTransition(t *testing.T) {
	eng := &fakeEngine{}
	e := New(nil, "/tmp/dicts", nil)
	e.AttachEngine(eng, nil)

	e.SetNodeRole(context.Background(), RoleLeader)
	e.SetNodeRole(context.Background(), RoleLeader) // no-op, same role
	e.SetNodeRole(context.Background(), RoleFollower)

	require.Equal(t, []bool{true, false}, eng.calls)
	require.Equal(t, RoleFollower, e.Role())
}

func TestEnvPublishDictNoPublisherIsNoopSuccess(t *testing.T) {
	e := New(nil, "/tmp/dicts", nil)
	require.NoError(t, e.EnvPublishDict(1, "f.dict", nil, nil))
}

func TestEnvPublishDictWrapsPublisherError(t *testing.T) {
	e := New(nil, "/tmp/dicts", nil)
	e.SetDictPublisher(func(dictID uint16, fileName string, dictBytes, manifestBytes []byte) error {
		return errors.New("follower unreachable")
	})
	err := e.EnvPublishDict(1, "f.dict", nil, nil)
	require.Error(t, err)
}

func TestEnvAllocDictIDDefaultAllocatorSkipsUsed(t *testing.T) {
	e := New(nil, "/tmp/dicts", func() map[uint16]bool {
		return map[uint16]bool{1: true, 2: true}
	})
	id, err := e.EnvAllocDictID()
	require.NoError(t, err)
	require.EqualValues(t, 3, id)
}

type fakeIDProvider struct {
	allocID      uint16
	releasedID   uint16
	releaseCalls int
}

func (p *fakeIDProvider) Alloc() (uint16, error) { return p.allocID, nil }
func (p *fakeIDProvider) Release(id uint16) error {
	p.releasedID = id
	p.releaseCalls++
	return nil
}

func TestEnvAllocAndReleaseDictIDUsesInstalledProvider(t *testing.T) {
	e := New(nil, "/tmp/dicts", nil)
	p := &fakeIDProvider{allocID: 42}
	e.SetDictIDProvider(p)

	id, err := e.EnvAllocDictID()
	require.NoError(t, err)
	require.EqualValues(t, 42, id)

	require.NoError(t, e.EnvReleaseDictID(42))
	require.EqualValues(t, 42, p.releasedID)
	require.Equal(t, 1, p.releaseCalls)
}

func TestEnvReloadDictsRequiresAttachedHook(t *testing.T) {
	e := New(nil, "/tmp/dicts", nil)
	_, err := e.EnvReloadDicts()
	require.Error(t, err)

	e.AttachEngine(&fakeEngine{}, &fakeReloader{status: ReloadStatus{Loaded: 3}})
	status, err := e.EnvReloadDicts()
	require.NoError(t, err)
	require.Equal(t, 3, status.Loaded)
}

func TestEnvGetDictDir(t *testing.T) {
	e := New(nil, "/var/cachecomp/dicts", nil)
	require.Equal(t, "/var/cachecomp/dicts", e.EnvGetDictDir())
}
