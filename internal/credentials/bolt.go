package credentials

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/straumur/zfsadm/internal/common"
)

var bucketAdmin = []byte("admin")

var u32 = binary.BigEndian.Uint32

func i32ToB(value int32) []byte {
	nib := make([]byte, 4)
	binary.BigEndian.PutUint32(nib, uint32(value))
	return nib
}

// BoltStore keeps the credential record in a bbolt database, which gives the
// admin API atomic rotation without a read-modify-write window.
type BoltStore struct {
	db    *bolt.DB
	world common.WorldState
}

func OpenBoltStore(dbPath string, world common.WorldState) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db, world: world}, nil
}

func (s *BoltStore) Load() (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketAdmin)
		if bucket == nil {
			return ErrNoRecord
		}
		salt := bucket.Get([]byte("Salt"))
		hash := bucket.Get([]byte("Hash"))
		iter := bucket.Get([]byte("Iterations"))
		if salt == nil || hash == nil || len(iter) != 4 {
			return ErrBadRecord
		}
		// Get returns memory only valid inside the transaction.
		rec.Salt = append([]byte(nil), salt...)
		rec.Hash = append([]byte(nil), hash...)
		rec.Iterations = int(u32(iter))
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BoltStore) SetPassword(password string, iterations int) error {
	rec := NewRecord(password, iterations, s.world.Rand)
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketAdmin)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte("Salt"), rec.Salt); err != nil {
			return err
		}
		if err := bucket.Put([]byte("Hash"), rec.Hash); err != nil {
			return err
		}
		return bucket.Put([]byte("Iterations"), i32ToB(int32(rec.Iterations)))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
