package pinning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/sigweihq/ebookpay/pkg/constants"
)

// MemoryStore is an in-process content-addressed store. Objects are keyed by
// their CIDv1 (raw, sha2-256). It also serves them as an IPFS path gateway
// (GET /ipfs/<cid>), so a resolver can read what was uploaded without a network.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	names   map[string]string
}

var _ Uploader = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		names:   make(map[string]string),
	}
}

func (s *MemoryStore) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(r, constants.MaxContentFileSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) > constants.MaxContentFileSize {
		return "", fmt.Errorf("%w: %s", ErrTooLarge, name)
	}
	id, err := s.Put(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.names[id.String()] = name
	s.mu.Unlock()
	return Pointer(id), nil
}

// Put stores data and returns its CID. Storing the same bytes twice is a no-op.
func (s *MemoryStore) Put(data []byte) (cid.Cid, error) {
	id, err := RawCID(data)
	if err != nil {
		return cid.Undef, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id.String()]; !ok {
		s.objects[id.String()] = bytes.Clone(data)
	}
	return id, nil
}

func (s *MemoryStore) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (s *MemoryStore) Has(id cid.Cid) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[id.String()]
	return ok
}

// Name returns the name an object was uploaded under
func (s *MemoryStore) Name(id cid.Cid) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.names[id.String()]
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.objects)
}

func (s *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/ipfs/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		// objects are raw blocks without directory structure
		http.NotFound(w, r)
		return
	}

	id, err := cid.Decode(rest)
	if err != nil {
		http.Error(w, "invalid cid", http.StatusBadRequest)
		return
	}
	data, err := s.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=29030400, immutable")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}
