// Package checkpoint persists sampler state to a bolt database so long
// runs can be interrupted and resumed.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all checkpoints.
var MAIN = []byte("main")

// CheckpointData is the resumable state of one chain.
type CheckpointData struct {
	// Iter is the next iteration to perform.
	Iter int
	// Theta is the current sampled parameter vector.
	Theta []float64
	// Sigma2 is the current observation-error variance.
	Sigma2 []float64
	// Qcov is the current proposal covariance, row-major.
	Qcov []float64
	// Final marks a completed run; final checkpoints are not resumed.
	Final bool
}

// CheckpointIO saves and loads chain checkpoints.
type CheckpointIO struct {
	db      *bolt.DB
	key     []byte
	last    time.Time
	seconds float64
}

// NewCheckpointIO creates a CheckpointIO writing under key, saving at most
// once every seconds.
func NewCheckpointIO(db *bolt.DB, key []byte, seconds float64) *CheckpointIO {
	return &CheckpointIO{
		db:      db,
		key:     key,
		seconds: seconds,
	}
}

// SaveState writes the chain state to the database.
func (s *CheckpointIO) SaveState(data *CheckpointData) error {
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint: ", err)
		return err
	}
	err = SaveData(s.db, s.key, dataB)
	if err != nil {
		log.Error("Error saving checkpoint: ", err)
	}
	return err
}

// LoadState returns the stored chain state, or nil if there is none.
func (s *CheckpointIO) LoadState() (*CheckpointData, error) {
	b, err := LoadData(s.db, s.key)
	if err != nil || b == nil {
		return nil, err
	}

	var data *CheckpointData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	if data == nil || len(data.Theta) == 0 {
		return nil, nil
	}

	if data.Final {
		log.Noticef("Found finished sampling checkpoint (iter=%v)", data.Iter)
	} else {
		log.Noticef("Found unfinished sampling checkpoint (iter=%v)", data.Iter)
	}
	return data, nil
}

// Old returns true if the last checkpoint save was too long ago.
func (s *CheckpointIO) Old() bool {
	return time.Since(s.last).Seconds() > s.seconds
}

// SetNow sets the last checkpoint time to now.
func (s *CheckpointIO) SetNow() {
	s.last = time.Now()
}

// SaveData saves a value in the bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LoadData loads a value from the bolt database.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
