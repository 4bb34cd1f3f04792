package chains

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABIRegistry holds one canonical parsed ABI per contract name.
// Shapes are normalized once at registration: a bare ABI array, a build artifact
// such as {"abi":[...],"bytecode":"0x..."}, or a JSON string wrapping either.
type ABIRegistry struct {
	abis map[string]*abi.ABI
	mu   sync.RWMutex
}

func NewABIRegistry() *ABIRegistry {
	return &ABIRegistry{
		abis: make(map[string]*abi.ABI),
	}
}

// Register parses and stores an ABI under name, replacing any previous entry
func (r *ABIRegistry) Register(name string, raw []byte) error {
	parsed, err := normalizeABI(raw, 0)
	if err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidABI, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.abis[name] = parsed
	return nil
}

// MustRegister is Register for ABIs compiled into the binary
func (r *ABIRegistry) MustRegister(name string, raw string) {
	if err := r.Register(name, []byte(raw)); err != nil {
		panic(err)
	}
}

func normalizeABI(raw []byte, depth int) (*abi.ABI, error) {
	if depth > 2 {
		return nil, fmt.Errorf("ABI nested too deeply")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty ABI")
	}

	switch raw[0] {
	case '[':
		parsed, err := abi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	case '{':
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, err
		}
		if len(artifact.ABI) == 0 {
			return nil, fmt.Errorf("artifact has no abi field")
		}
		return normalizeABI(artifact.ABI, depth+1)
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		return normalizeABI([]byte(inner), depth+1)
	default:
		return nil, fmt.Errorf("unsupported ABI shape starting with %q", raw[0])
	}
}

// Get retrieves the ABI registered under name
func (r *ABIRegistry) Get(name string) (*abi.ABI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parsed, exists := r.abis[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	return parsed, nil
}

// Method looks up a method of a registered contract
func (r *ABIRegistry) Method(name, method string) (abi.Method, error) {
	parsed, err := r.Get(name)
	if err != nil {
		return abi.Method{}, err
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return abi.Method{}, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, name, method)
	}
	return m, nil
}

// Pack encodes call data for a method
func (r *ABIRegistry) Pack(name, method string, args ...any) ([]byte, error) {
	if _, err := r.Method(name, method); err != nil {
		return nil, err
	}
	parsed, _ := r.Get(name)
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s.%s: %w", name, method, err)
	}
	return data, nil
}

// Unpack decodes return data for a method
func (r *ABIRegistry) Unpack(name, method string, data []byte) ([]any, error) {
	if _, err := r.Method(name, method); err != nil {
		return nil, err
	}
	parsed, _ := r.Get(name)
	out, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s.%s: %w", name, method, err)
	}
	return out, nil
}

// Names returns the registered contract names in sorted order
func (r *ABIRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.abis))
	for name := range r.abis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a contract name has an ABI
func (r *ABIRegistry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.abis[name]
	return exists
}

// Unregister removes an ABI (useful for testing)
func (r *ABIRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.abis, name)
}
