package checkpoint

import (
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
)

func openTestDB(tst *testing.T) *bolt.DB {
	db, err := bolt.Open(filepath.Join(tst.TempDir(), "ckp.db"), 0644, nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	tst.Cleanup(func() { db.Close() })
	return db
}

func TestSaveLoadState(tst *testing.T) {
	db := openTestDB(tst)
	ckp := NewCheckpointIO(db, []byte("chain0"), 0)

	in := &CheckpointData{
		Iter:   42,
		Theta:  []float64{1.5, -0.25},
		Sigma2: []float64{0.9},
		Qcov:   []float64{4, 1, 1, 2},
	}
	if err := ckp.SaveState(in); err != nil {
		tst.Fatal("Error: ", err)
	}

	out, err := ckp.LoadState()
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if out == nil {
		tst.Fatal("Expected a stored checkpoint")
	}
	if out.Iter != in.Iter || out.Final {
		tst.Errorf("Incorrect metadata: iter=%d final=%v", out.Iter, out.Final)
	}
	for i, v := range in.Theta {
		if out.Theta[i] != v {
			tst.Errorf("Theta[%d]=%v, want %v", i, out.Theta[i], v)
		}
	}
	for i, v := range in.Qcov {
		if out.Qcov[i] != v {
			tst.Errorf("Qcov[%d]=%v, want %v", i, out.Qcov[i], v)
		}
	}
}

func TestLoadStateEmpty(tst *testing.T) {
	db := openTestDB(tst)
	ckp := NewCheckpointIO(db, []byte("chain0"), 0)
	out, err := ckp.LoadState()
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if out != nil {
		tst.Errorf("Expected no checkpoint in an empty database, got %+v", out)
	}
}

func TestKeysAreIndependent(tst *testing.T) {
	db := openTestDB(tst)
	a := NewCheckpointIO(db, []byte("a"), 0)
	b := NewCheckpointIO(db, []byte("b"), 0)
	if err := a.SaveState(&CheckpointData{Iter: 1, Theta: []float64{1}}); err != nil {
		tst.Fatal("Error: ", err)
	}
	out, err := b.LoadState()
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if out != nil {
		tst.Errorf("Checkpoint leaked across keys: %+v", out)
	}
}

func TestOld(tst *testing.T) {
	ckp := NewCheckpointIO(nil, []byte("x"), 3600)
	if !ckp.Old() {
		tst.Error("A fresh CheckpointIO should report an overdue save")
	}
	ckp.SetNow()
	if ckp.Old() {
		tst.Error("A just-saved checkpoint should not be overdue")
	}
}
