package clientsign

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is the persistent part of the device: the committed key material and which fields are complete.
// Staging buffers and signing scratch space are transient and never part of it.
type Snapshot struct {
	E      []byte      `cbor:"1,keyasint,omitempty"`
	D      []byte      `cbor:"2,keyasint,omitempty"`
	N      []byte      `cbor:"3,keyasint,omitempty"`
	Status FieldStatus `cbor:"4,keyasint"`
}

func (s *Snapshot) field(f Field) []byte {
	switch f {
	case FieldE:
		return s.E
	case FieldD:
		return s.D
	default:
		return s.N
	}
}

func (s *Snapshot) setField(f Field, b []byte) {
	switch f {
	case FieldE:
		s.E = b
	case FieldD:
		s.D = b
	default:
		s.N = b
	}
}

// Store keeps key material across power cycles
type Store interface {
	// Load returns the last saved snapshot, or nil if nothing was ever saved
	Load() (*Snapshot, error)
	// Save replaces the stored snapshot atomically
	Save(*Snapshot) error
}

// MemoryStore keeps the snapshot in process memory. It is the default store.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	return cloneSnapshot(m.snap), nil
}

func (m *MemoryStore) Save(snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = cloneSnapshot(snap)
	return nil
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	return &Snapshot{
		E:      append([]byte(nil), s.E...),
		D:      append([]byte(nil), s.D...),
		N:      append([]byte(nil), s.N...),
		Status: s.Status,
	}
}

// FileStore keeps the snapshot CBOR-encoded in a single file, replaced by rename on every save
type FileStore struct {
	path    string
	encMode cbor.EncMode
}

// NewFileStore returns a store backed by the file at path. The file need not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoding mode: %w", err)
	}
	return &FileStore{path: path, encMode: encMode}, nil
}

// Path returns the backing file
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load() (*Snapshot, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap Snapshot
	if err := cbor.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode state file %s: %w", f.path, err)
	}
	return &snap, nil
}

func (f *FileStore) Save(snap *Snapshot) error {
	b, err := f.encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	// the rename below makes this a no-op on success
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict state file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
