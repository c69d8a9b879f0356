package credentials

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/straumur/zfsadm/internal/common"
)

// fileRecord is the on-disk JSON shape: hex-encoded salt and hash plus the
// iteration count.
type fileRecord struct {
	Salt       string `json:"salt"`
	Hash       string `json:"hash"`
	Iterations int    `json:"iterations"`
}

// FileStore reads the credential record from a JSON file owned by the server
// process.
type FileStore struct {
	path  string
	world common.WorldState
}

func NewFileStore(path string, world common.WorldState) *FileStore {
	return &FileStore{path: path, world: world}
}

func (s *FileStore) Load() (Record, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNoRecord
		}
		return Record{}, err
	}
	var raw fileRecord
	if err := json.Unmarshal(content, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	salt, err := hex.DecodeString(raw.Salt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad salt hex", ErrBadRecord)
	}
	hash, err := hex.DecodeString(raw.Hash)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad hash hex", ErrBadRecord)
	}
	rec := Record{Salt: salt, Hash: hash, Iterations: raw.Iterations}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *FileStore) SetPassword(password string, iterations int) error {
	rec := NewRecord(password, iterations, s.world.Rand)
	content, err := json.Marshal(fileRecord{
		Salt:       hex.EncodeToString(rec.Salt),
		Hash:       hex.EncodeToString(rec.Hash),
		Iterations: rec.Iterations,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, content, 0600)
}
