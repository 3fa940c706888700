package httpcache

// revalidation.go coalesces concurrent origin-fetch revalidations for the
// same cache key/signature, the same thundering-herd problem the teacher's
// pkg/loader.go solves for cache misses — adapted here from "many
// goroutines load the same missing key" to "many stale-serving requests
// trigger the same async revalidation".
import (
	"context"

	"golang.org/x/sync/singleflight"
)

// RevalidateFunc performs the actual origin fetch for a stale-but-servable
// variant, returning the fresh body/metadata to write back.
type RevalidateFunc func(ctx context.Context) (body []byte, meta any, err error)

// Revalidator deduplicates concurrent revalidation attempts for the same
// (key, signature) pair so a burst of requests arriving inside the SWR
// window triggers exactly one origin fetch.
type Revalidator struct {
	g singleflight.Group
}

func NewRevalidator() *Revalidator {
	return &Revalidator{}
}

// Revalidate runs fn at most once per concurrently-overlapping call for
// groupKey (typically "key\x00signature"); every caller in the group
// receives the same result. The returned shared flag follows
// singleflight's convention: true if the result was handed to more than
// one caller, including the caller that executed fn.
func (r *Revalidator) Revalidate(ctx context.Context, groupKey string, fn RevalidateFunc) (body []byte, meta any, shared bool, err error) {
	type result struct {
		body []byte
		meta any
	}
	v, err, shared := r.g.Do(groupKey, func() (any, error) {
		b, m, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return result{body: b, meta: m}, nil
	})
	if err != nil {
		return nil, nil, shared, err
	}
	res := v.(result)
	return res.body, res.meta, shared, nil
}

// Forget drops any in-flight or cached singleflight entry for groupKey,
// used after a hard PURGE so a subsequent revalidation is not served a
// stale in-flight result.
func (r *Revalidator) Forget(groupKey string) {
	r.g.Forget(groupKey)
}
