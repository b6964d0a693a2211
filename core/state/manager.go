package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowauction/storage"
)

var errTxClosed = errors.New("state: transaction already closed")

// Manager provides keyed, RLP-encoded access to the host state stored in the
// underlying database. Mutations go through a Tx so that a command either
// commits every write or none of them.
type Manager struct {
	db storage.Database
	// single writer; Begin blocks until the previous Tx is closed
	writer sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVGet reads a committed value outside of any transaction.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager not configured")
	}
	return readKV(m.db, key, out)
}

// View returns a read-only transaction over the committed state. Writes made
// through it are discarded.
func (m *Manager) View() *Tx {
	return &Tx{db: m.db, writes: make(map[string][]byte), readOnly: true}
}

// Begin opens a write transaction. Callers must Commit or Discard it.
func (m *Manager) Begin() *Tx {
	m.writer.Lock()
	return &Tx{db: m.db, writes: make(map[string][]byte), release: m.writer.Unlock}
}

func readKV(db storage.Database, key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Tx buffers writes on top of the committed state. Reads observe the
// transaction's own pending writes first.
type Tx struct {
	db       storage.Database
	writes   map[string][]byte // nil value marks a pending delete
	order    []string
	readOnly bool
	closed   bool
	release  func()
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return errTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	tx.stage(kvKey(key), encoded)
	return nil
}

// KVDelete removes the key. Deleting a missing key is a no-op.
func (tx *Tx) KVDelete(key []byte) error {
	if tx.closed {
		return errTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	tx.stage(kvKey(key), nil)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if tx.closed {
		return false, errTxClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	if pending, ok := tx.writes[string(kvKey(key))]; ok {
		if pending == nil {
			return false, nil
		}
		if out == nil {
			return true, nil
		}
		return true, rlp.DecodeBytes(pending, out)
	}
	return readKV(tx.db, key, out)
}

func (tx *Tx) stage(hashed []byte, value []byte) {
	id := string(hashed)
	if _, seen := tx.writes[id]; !seen {
		tx.order = append(tx.order, id)
	}
	tx.writes[id] = value
}

// Pending reports the number of distinct keys written in this transaction.
func (tx *Tx) Pending() int {
	return len(tx.order)
}

// Commit writes all pending mutations as a single batch.
func (tx *Tx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	defer tx.close()
	if tx.readOnly {
		return fmt.Errorf("state: cannot commit a read-only view")
	}
	if len(tx.order) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for _, id := range tx.order {
		value := tx.writes[id]
		if value == nil {
			batch.Delete([]byte(id))
			continue
		}
		batch.Put([]byte(id), value)
	}
	return tx.db.Write(batch)
}

// Discard drops every pending write. It is safe to call after Commit.
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.writes = nil
	tx.order = nil
	if tx.release != nil {
		tx.release()
		tx.release = nil
	}
}
