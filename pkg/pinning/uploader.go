// Package pinning stores content in content-addressed storage and returns ipfs:// pointers.
package pinning

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Uploader stores a blob and returns its ipfs:// pointer
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (pointer string, err error)
}

// ProgressFunc reports bytes sent out of total
type ProgressFunc func(sent, total int64)

// Pointer formats a CID as an ipfs:// content pointer
func Pointer(id cid.Cid) string {
	return "ipfs://" + id.String()
}

// ParsePointer returns the CID of an ipfs:// pointer or bare CID
func ParsePointer(pointer string) (cid.Cid, error) {
	s := strings.TrimPrefix(strings.TrimSpace(pointer), "ipfs://")
	s = strings.TrimPrefix(s, "ipfs/")
	s, _, _ = strings.Cut(s, "/")
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrInvalidCID, pointer, err)
	}
	return id, nil
}

// RawCID returns the CIDv1 (raw codec, sha2-256) of data
func RawCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// progressReader reports cumulative reads to fn
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
