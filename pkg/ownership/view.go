package ownership

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/types"
	"golang.org/x/sync/singleflight"
)

type answerKey struct {
	holder common.Address
	id     types.ContentID
}

// View memoizes ownership answers for the lifetime of one screen or command.
// Concurrent questions about the same (holder, content) pair share one lookup.
type View struct {
	oracle *Oracle

	mu      sync.Mutex
	answers map[answerKey]bool
	group   singleflight.Group
}

var _ cache.Invalidator = (*View)(nil)

func (o *Oracle) NewView() *View {
	return &View{
		oracle:  o,
		answers: make(map[answerKey]bool),
	}
}

func (v *View) OwnsContent(ctx context.Context, holder common.Address, id types.ContentID) (bool, error) {
	key := answerKey{holder: holder, id: id}

	v.mu.Lock()
	owned, ok := v.answers[key]
	v.mu.Unlock()
	if ok {
		return owned, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	// the shared lookup outlives any single caller; each caller stops waiting on its own ctx
	flight := types.CanonicalAddress(holder) + "/" + id.String()
	ch := v.group.DoChan(flight, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.SharedLoadTimeout)
		defer cancel()

		owned, err := v.oracle.OwnsContent(lookupCtx, holder, id)
		if err != nil {
			return false, err
		}
		v.mu.Lock()
		v.answers[key] = owned
		v.mu.Unlock()
		return owned, nil
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

// Forget drops every memoized answer for holder, e.g. after a purchase
func (v *View) Forget(holder common.Address) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	dropped := 0
	for key := range v.answers {
		if key.holder == holder {
			delete(v.answers, key)
			dropped++
		}
	}
	return dropped
}

// Invalidate handles ownership topics so a View can be attached to a cache.Bus
func (v *View) Invalidate(topic string) int {
	holder, ok := cache.OwnershipHolder(topic)
	if !ok {
		return 0
	}
	return v.Forget(holder)
}

// Len returns the number of memoized answers
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.answers)
}
