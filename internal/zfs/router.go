package zfs

import (
	"github.com/straumur/zfsadm/internal/transport"
)

// Request discriminators the router understands.
const (
	TypePing            = "ping"
	TypePoolList        = "pool_list"
	TypePoolStatus      = "pool_status"
	TypeDatasetList     = "dataset_list"
	TypeSnapshotList    = "snapshot_list"
	TypeSnapshotCreate  = "snapshot_create"
	TypeSnapshotDestroy = "snapshot_destroy"
)

type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type okReply struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}

// Router maps authenticated application requests onto a Commander. It
// implements the server's Handler contract.
type Router struct {
	cmd Commander
}

func NewRouter(cmd Commander) *Router {
	return &Router{cmd: cmd}
}

func (r *Router) Handle(f transport.Frame) (interface{}, error) {
	switch f.Type {
	case TypePing:
		return map[string]interface{}{"type": "pong"}, nil

	case TypePoolList:
		pools, err := r.cmd.ListPools()
		if err != nil {
			return nil, err
		}
		return struct {
			Type  string `json:"type"`
			Pools []Pool `json:"pools"`
		}{"pool_list_result", pools}, nil

	case TypePoolStatus:
		var req struct {
			Pool string `json:"pool"`
		}
		if err := f.Decode(&req); err != nil {
			return nil, err
		}
		status, err := r.cmd.PoolStatus(req.Pool)
		if err != nil {
			return nil, err
		}
		return struct {
			Type   string `json:"type"`
			Pool   string `json:"pool"`
			Status string `json:"status"`
		}{"pool_status_result", req.Pool, status}, nil

	case TypeDatasetList:
		datasets, err := r.cmd.ListDatasets()
		if err != nil {
			return nil, err
		}
		return struct {
			Type     string    `json:"type"`
			Datasets []Dataset `json:"datasets"`
		}{"dataset_list_result", datasets}, nil

	case TypeSnapshotList:
		var req struct {
			Dataset string `json:"dataset"`
		}
		if err := f.Decode(&req); err != nil {
			return nil, err
		}
		snaps, err := r.cmd.ListSnapshots(req.Dataset)
		if err != nil {
			return nil, err
		}
		return struct {
			Type      string     `json:"type"`
			Dataset   string     `json:"dataset"`
			Snapshots []Snapshot `json:"snapshots"`
		}{"snapshot_list_result", req.Dataset, snaps}, nil

	case TypeSnapshotCreate:
		var req struct {
			Dataset  string `json:"dataset"`
			Snapshot string `json:"snapshot"`
		}
		if err := f.Decode(&req); err != nil {
			return nil, err
		}
		if err := r.cmd.CreateSnapshot(req.Dataset, req.Snapshot); err != nil {
			return nil, err
		}
		return okReply{"snapshot_create_result", true}, nil

	case TypeSnapshotDestroy:
		var req struct {
			Dataset  string `json:"dataset"`
			Snapshot string `json:"snapshot"`
		}
		if err := f.Decode(&req); err != nil {
			return nil, err
		}
		if err := r.cmd.DestroySnapshot(req.Dataset, req.Snapshot); err != nil {
			return nil, err
		}
		return okReply{"snapshot_destroy_result", true}, nil

	default:
		return errorReply{"error", "unknown_request"}, nil
	}
}
