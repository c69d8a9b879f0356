package zfs

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straumur/zfsadm/internal/transport"
)

type fakeCommander struct {
	pools     []Pool
	datasets  []Dataset
	snapshots map[string][]Snapshot
	created   []string
	destroyed []string
	fail      error
}

func (f *fakeCommander) ListPools() ([]Pool, error) {
	return f.pools, f.fail
}

func (f *fakeCommander) PoolStatus(pool string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	return "pool: " + pool + "\n state: ONLINE\n", nil
}

func (f *fakeCommander) ListDatasets() ([]Dataset, error) {
	return f.datasets, f.fail
}

func (f *fakeCommander) ListSnapshots(dataset string) ([]Snapshot, error) {
	return f.snapshots[dataset], f.fail
}

func (f *fakeCommander) CreateSnapshot(dataset, name string) error {
	if f.fail != nil {
		return f.fail
	}
	f.created = append(f.created, dataset+"@"+name)
	return nil
}

func (f *fakeCommander) DestroySnapshot(dataset, name string) error {
	if f.fail != nil {
		return f.fail
	}
	f.destroyed = append(f.destroyed, dataset+"@"+name)
	return nil
}

func frameOf(t *testing.T, v interface{}) transport.Frame {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	f, err := transport.MakeFrame(raw)
	require.NoError(t, err)
	return f
}

func TestRouterPing(t *testing.T) {
	router := NewRouter(&fakeCommander{})
	resp, err := router.Handle(frameOf(t, map[string]string{"type": "ping"}))
	require.NoError(t, err)

	raw, _ := json.Marshal(resp)
	assert.JSONEq(t, `{"type":"pong"}`, string(raw))
}

func TestRouterPoolList(t *testing.T) {
	cmd := &fakeCommander{pools: []Pool{
		{Name: "tank", Size: 1 << 40, Alloc: 1 << 39, Free: 1 << 39, Health: "ONLINE"},
	}}
	router := NewRouter(cmd)

	resp, err := router.Handle(frameOf(t, map[string]string{"type": "pool_list"}))
	require.NoError(t, err)

	raw, _ := json.Marshal(resp)
	var got struct {
		Type  string `json:"type"`
		Pools []Pool `json:"pools"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "pool_list_result", got.Type)
	assert.Equal(t, cmd.pools, got.Pools)
}

func TestRouterSnapshotLifecycle(t *testing.T) {
	cmd := &fakeCommander{snapshots: map[string][]Snapshot{
		"tank/home": {{Name: "tank/home@nightly", Used: 1024, Creation: 1700000000}},
	}}
	router := NewRouter(cmd)

	resp, err := router.Handle(frameOf(t, map[string]string{
		"type": "snapshot_create", "dataset": "tank/home", "snapshot": "pre-upgrade",
	}))
	require.NoError(t, err)
	raw, _ := json.Marshal(resp)
	assert.JSONEq(t, `{"type":"snapshot_create_result","ok":true}`, string(raw))
	assert.Equal(t, []string{"tank/home@pre-upgrade"}, cmd.created)

	resp, err = router.Handle(frameOf(t, map[string]string{
		"type": "snapshot_list", "dataset": "tank/home",
	}))
	require.NoError(t, err)
	raw, _ = json.Marshal(resp)
	var list struct {
		Snapshots []Snapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list.Snapshots, 1)

	resp, err = router.Handle(frameOf(t, map[string]string{
		"type": "snapshot_destroy", "dataset": "tank/home", "snapshot": "pre-upgrade",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"tank/home@pre-upgrade"}, cmd.destroyed)
}

func TestRouterUnknownRequest(t *testing.T) {
	router := NewRouter(&fakeCommander{})
	resp, err := router.Handle(frameOf(t, map[string]string{"type": "format_all_disks"}))
	require.NoError(t, err)

	raw, _ := json.Marshal(resp)
	assert.JSONEq(t, `{"type":"error","error":"unknown_request"}`, string(raw))
}

func TestRouterCommanderFailure(t *testing.T) {
	router := NewRouter(&fakeCommander{fail: errors.New("zpool: command not found")})
	_, err := router.Handle(frameOf(t, map[string]string{"type": "pool_list"}))
	assert.Error(t, err)
}

func TestValidName(t *testing.T) {
	for _, good := range []string{"tank", "tank/home", "nightly-2024_01", "a.b:c"} {
		assert.True(t, validName(good), good)
	}
	for _, bad := range []string{"", "-r", "tank home", "tank\thome", "tank@snap", "a\nb"} {
		assert.False(t, validName(bad), bad)
	}
}
