// Package zfs is the application layer behind the secure transport: typed
// results for pool/dataset/snapshot queries and the Commander interface the
// request router drives. The transport core only ever sees the Handler.
package zfs

import "errors"

type Pool struct {
	Name   string `json:"name"`
	Size   uint64 `json:"size"`
	Alloc  uint64 `json:"alloc"`
	Free   uint64 `json:"free"`
	Health string `json:"health"`
}

type Dataset struct {
	Name       string `json:"name"`
	Used       uint64 `json:"used"`
	Avail      uint64 `json:"avail"`
	Refer      uint64 `json:"refer"`
	Mountpoint string `json:"mountpoint"`
}

type Snapshot struct {
	Name     string `json:"name"`
	Used     uint64 `json:"used"`
	Creation int64  `json:"creation"`
}

var ErrBadName = errors.New("invalid zfs name")

// Commander enumerates and manipulates pools, datasets and snapshots.
// Implementations are external collaborators of the transport core.
type Commander interface {
	ListPools() ([]Pool, error)
	PoolStatus(pool string) (string, error)
	ListDatasets() ([]Dataset, error)
	ListSnapshots(dataset string) ([]Snapshot, error)
	CreateSnapshot(dataset, name string) error
	DestroySnapshot(dataset, name string) error
}
