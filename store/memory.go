package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/onnwee/tweet-tender/crypto"
)

// MemoryStore keeps all credential state in process memory behind a mutex. The lock
// is held only for individual map operations, never across I/O. State optionally
// round-trips through a single snapshot file (see Save/Load).
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]PendingAuthorization
	linked  map[string]LinkedAccount

	path       string
	enc        crypto.Encryptor
	pendingTTL time.Duration
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSnapshotFile sets the snapshot path used by Save and Load.
func WithSnapshotFile(path string) MemoryOption {
	return func(m *MemoryStore) { m.path = path }
}

// WithEncryptor encrypts snapshots at rest.
func WithEncryptor(enc crypto.Encryptor) MemoryOption {
	return func(m *MemoryStore) { m.enc = enc }
}

// WithPendingTTL bounds how long a pending authorization stays redeemable.
// Zero disables expiry.
func WithPendingTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.pendingTTL = ttl }
}

// NewMemoryStore returns an empty store. Call Load to rehydrate from a snapshot.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		pending: make(map[string]PendingAuthorization),
		linked:  make(map[string]LinkedAccount),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) GetLinked(_ context.Context, chatID string) (LinkedAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.linked[chatID]
	return acct, ok, nil
}

func (m *MemoryStore) PutLinked(_ context.Context, chatID string, acct LinkedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linked[chatID] = acct
	return nil
}

func (m *MemoryStore) CountLinked(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.linked), nil
}

func (m *MemoryStore) RemoveLinked(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.linked, chatID)
	return nil
}

func (m *MemoryStore) PutPending(_ context.Context, p PendingAuthorization) error {
	if p.RequestToken == "" {
		return fmt.Errorf("pending authorization missing request token")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Opportunistic sweep so abandoned handshakes do not accumulate.
	m.evictExpiredLocked(time.Now())
	m.pending[p.RequestToken] = p
	return nil
}

func (m *MemoryStore) TakePending(_ context.Context, requestToken string) (PendingAuthorization, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[requestToken]
	if !ok {
		return PendingAuthorization{}, false, nil
	}
	delete(m.pending, requestToken)
	if m.expired(p, time.Now()) {
		return PendingAuthorization{}, false, nil
	}
	return p, true, nil
}

func (m *MemoryStore) expired(p PendingAuthorization, now time.Time) bool {
	return m.pendingTTL > 0 && !p.CreatedAt.IsZero() && now.Sub(p.CreatedAt) > m.pendingTTL
}

func (m *MemoryStore) evictExpiredLocked(now time.Time) {
	if m.pendingTTL <= 0 {
		return
	}
	for tok, p := range m.pending {
		if m.expired(p, now) {
			delete(m.pending, tok)
		}
	}
}

// snapshot is the gob wire form of the store state.
type snapshot struct {
	Pending map[string]PendingAuthorization
	Linked  map[string]LinkedAccount
}

// Save writes the current state to the snapshot file, encrypting when an encryptor is
// configured. The write goes through a temp file and rename so a crash mid-write
// leaves the previous snapshot intact.
func (m *MemoryStore) Save() error {
	if m.path == "" {
		return nil
	}
	m.mu.Lock()
	snap := snapshot{
		Pending: make(map[string]PendingAuthorization, len(m.pending)),
		Linked:  make(map[string]LinkedAccount, len(m.linked)),
	}
	for k, v := range m.pending {
		snap.Pending[k] = v
	}
	for k, v := range m.linked {
		snap.Linked[k] = v
	}
	m.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data := buf.Bytes()
	if m.enc != nil {
		sealed, err := m.enc.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt snapshot: %w", err)
		}
		data = sealed
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the snapshot file's contents. A missing or
// undecodable file leaves the store empty and is not an error; corruption is logged
// and the bad file ignored so the service still starts.
func (m *MemoryStore) Load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if m.enc != nil {
		plain, err := m.enc.Decrypt(data)
		if err != nil {
			slog.Warn("snapshot decrypt failed, starting empty", slog.String("path", m.path), slog.Any("err", err))
			return nil
		}
		data = plain
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		slog.Warn("snapshot corrupt, starting empty", slog.String("path", m.path), slog.Any("err", err))
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = snap.Pending
	if m.pending == nil {
		m.pending = make(map[string]PendingAuthorization)
	}
	m.linked = snap.Linked
	if m.linked == nil {
		m.linked = make(map[string]LinkedAccount)
	}
	return nil
}

// StartSnapshotFlusher periodically persists the store until ctx is done, then writes
// a final snapshot. The returned channel closes once that final snapshot has been
// written, so callers can wait for it before exiting. Without a snapshot path
// nothing runs and the channel is already closed.
func (m *MemoryStore) StartSnapshotFlusher(ctx context.Context, every time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if m.path == "" {
		close(done)
		return done
	}
	if every <= 0 {
		every = 5 * time.Minute
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if err := m.Save(); err != nil {
					slog.Error("final snapshot failed", slog.Any("err", err))
				}
				return
			case <-ticker.C:
				if err := m.Save(); err != nil {
					slog.Warn("snapshot flush failed", slog.Any("err", err))
				}
			}
		}
	}()
	return done
}
