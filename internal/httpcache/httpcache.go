// Package httpcache implements the freshness classification, variant
// selection, and invalidation semantics spec.md §4.7 (C7) describes for the
// HttpCache StoredValue variant. The types it operates on
// (storage.HTTPCache/storage.Variant/storage.ResponseMetadata) live in
// internal/storage since they are one arm of the DataValue tagged union;
// this package is the pure logic layer that runs under the same shard lock
// any other command's logic does.
package httpcache

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/Voskan/spineldb/internal/storage"
)

// Freshness classifies a variant's age against its three windows, per
// spec.md §4.7 step 3a.
type Freshness uint8

const (
	FreshFresh Freshness = iota
	FreshStaleRevalidate
	FreshStaleGraceOnly
	FreshMiss
)

// ClassifyFreshness implements spec.md §4.7's freshness rule: fresh below
// expiry, stale-but-servable (flagged for async revalidation) through the
// SWR window, grace-only (serve only if origin unreachable) through the
// grace window, and miss thereafter.
func ClassifyFreshness(now, expiry, staleRevalidateExpiry, graceExpiry time.Time) Freshness {
	if expiry.IsZero() {
		// Absent TTL: not cacheable for freshness purposes unless SWR/grace
		// cover the access time (spec.md §4.7 SET semantics note).
		if !staleRevalidateExpiry.IsZero() && now.Before(staleRevalidateExpiry) {
			return FreshStaleRevalidate
		}
		if !graceExpiry.IsZero() && now.Before(graceExpiry) {
			return FreshStaleGraceOnly
		}
		return FreshMiss
	}
	if now.Before(expiry) {
		return FreshFresh
	}
	if !staleRevalidateExpiry.IsZero() && now.Before(staleRevalidateExpiry) {
		return FreshStaleRevalidate
	}
	if !graceExpiry.IsZero() && now.Before(graceExpiry) {
		return FreshStaleGraceOnly
	}
	return FreshMiss
}

// wellKnownVaryHeaders is normalized case-insensitively per spec.md §4.7
// step 1; any header name is accepted, this just documents the common set.
var wellKnownVaryHeaders = map[string]bool{
	"accept-encoding": true,
	"accept-language": true,
	"accept":          true,
	"cookie":          true,
	"user-agent":      true,
}

// HeaderLookup returns the value of a request header by name (empty string
// if absent), used to compute a Vary signature.
type HeaderLookup func(name string) string

// VarySignature computes the request signature spec.md §4.7 step 1
// describes: the values of the headers named in varyOn, in order, joined
// with a separator that cannot appear in a header value.
func VarySignature(varyOn []string, lookup HeaderLookup) string {
	var b strings.Builder
	for i, name := range varyOn {
		if i > 0 {
			b.WriteByte('\x00')
		}
		b.WriteString(lookup(strings.ToLower(name)))
	}
	return b.String()
}

// TagRegistry is the cluster-wide logical clock for PURGETAG: bumping a
// tag's epoch invalidates every key whose recorded tags_epoch is lower,
// per spec.md §4.7's Invalidation section.
type TagRegistry struct {
	mu     sync.RWMutex
	epochs map[string]uint64
}

func NewTagRegistry() *TagRegistry {
	return &TagRegistry{epochs: make(map[string]uint64)}
}

// Bump increments tag's epoch and returns the new value, per PURGETAG.
func (r *TagRegistry) Bump(tag string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochs[tag]++
	return r.epochs[tag]
}

// EpochOf returns tag's current epoch (0 if never bumped/observed).
func (r *TagRegistry) EpochOf(tag string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epochs[tag]
}

// CurrentEpoch returns the epoch to stamp onto a newly-written entry's
// tags_epoch: the maximum epoch across the tags it is being associated
// with, so a subsequent bump of any of them invalidates it.
func (r *TagRegistry) CurrentEpoch(tags []string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max uint64
	for _, t := range tags {
		if e := r.epochs[t]; e > max {
			max = e
		}
	}
	return max
}

// TagsValid implements spec.md §4.7 step 3b: the entry is valid only while
// every tag currently associated with the key has an epoch ≤ the entry's
// recorded tags_epoch; a tag bumped past it makes the entry invalid.
func (r *TagRegistry) TagsValid(tags []string, tagsEpoch uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range tags {
		if tagsEpoch < r.epochs[t] {
			return false
		}
	}
	return true
}

// PurgeRegistry tracks lazy PURGE patterns: GET paths check a key against
// every active pattern and treat a match as a miss, evicting on access,
// per spec.md §4.7's "PURGE pattern (lazy)".
//
// Pattern matching uses the standard library's path.Match, whose glob
// syntax (*, ?, [...], with \ as the escape character) is exactly what
// spec.md §4.7 specifies — no third-party glob library in the retrieval
// pack offers anything path.Match does not already provide correctly.
type PurgeRegistry struct {
	mu       sync.RWMutex
	patterns []string
}

func NewPurgeRegistry() *PurgeRegistry {
	return &PurgeRegistry{}
}

// Add records pattern as an active lazy-purge pattern.
func (r *PurgeRegistry) Add(pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// Matches reports whether key matches any active purge pattern.
func (r *PurgeRegistry) Matches(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if ok, err := path.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

// Clear drops every recorded pattern. Used after a background sweep has
// physically reclaimed every matching key.
func (r *PurgeRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = r.patterns[:0]
}

// LeaseRegistry backs the LOCK command's named exclusive leases, used by
// external revalidators to coalesce origin fetches, per spec.md §4.7's
// "LOCK key ttl" note.
type LeaseRegistry struct {
	mu     sync.Mutex
	leases map[string]time.Time // key -> expiry
}

func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{leases: make(map[string]time.Time)}
}

// TryAcquire grants the lease for key if it is unheld or expired, setting
// its expiry to now+ttl. Returns false if another holder's lease is still
// live.
func (r *LeaseRegistry) TryAcquire(key string, ttl time.Duration, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if expiry, held := r.leases[key]; held && now.Before(expiry) {
		return false
	}
	r.leases[key] = now.Add(ttl)
	return true
}

// Release drops key's lease early, if any.
func (r *LeaseRegistry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, key)
}

// ConditionalResult is the outcome of applying a conditional GET against a
// stored variant's metadata, per spec.md §4.7 step 3c.
type ConditionalResult uint8

const (
	ConditionalNotApplicable ConditionalResult = iota
	ConditionalNotModified
	ConditionalFull
)

// ApplyConditional implements "If-None-Match matches stored ETag, or
// If-Modified-Since ≥ Last-Modified, returns 304 with headers only."
func ApplyConditional(meta storage.ResponseMetadata, ifNoneMatch, ifModifiedSince string) ConditionalResult {
	if ifNoneMatch == "" && ifModifiedSince == "" {
		return ConditionalNotApplicable
	}
	if ifNoneMatch != "" && meta.ETag != "" && etagMatches(ifNoneMatch, meta.ETag) {
		return ConditionalNotModified
	}
	if ifModifiedSince != "" && meta.LastModified != "" {
		ims, err1 := http1123(ifModifiedSince)
		lm, err2 := http1123(meta.LastModified)
		if err1 == nil && err2 == nil && !ims.Before(lm) {
			return ConditionalNotModified
		}
	}
	return ConditionalFull
}

func etagMatches(ifNoneMatch, etag string) bool {
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimSpace(candidate) == "*" {
			return true
		}
		if strings.Trim(strings.TrimSpace(candidate), `"`) == strings.Trim(etag, `"`) {
			return true
		}
	}
	return false
}

func http1123(s string) (time.Time, error) {
	return time.Parse(time.RFC1123, s)
}

// SelectVariant implements spec.md §4.7's GET path over an already-locked
// HttpCache entry: computes the signature, looks it up, classifies
// freshness, and checks tag validity. It does not evaluate conditional
// headers or lazy-purge patterns — those are separate steps the caller
// applies once it has a candidate variant (conditional via ApplyConditional,
// purge via PurgeRegistry.Matches on the key before calling SelectVariant
// at all).
func SelectVariant(entry *storage.HTTPCache, lookup HeaderLookup, now time.Time, sv *storage.StoredValue, tags *TagRegistry, keyTags []string) (*storage.Variant, Freshness, bool) {
	sig := VarySignature(entry.VaryOn, lookup)
	variant, ok := entry.Variants[sig]
	if !ok {
		return nil, FreshMiss, false
	}
	if !tags.TagsValid(keyTags, entry.TagsEpoch) {
		return nil, FreshMiss, false
	}
	fresh := ClassifyFreshness(now, sv.Expiry, sv.StaleRevalidateExpiry, sv.GraceExpiry)
	if fresh == FreshMiss {
		return nil, FreshMiss, false
	}
	return variant, fresh, true
}

// SetOptions carries the TTL/SWR/GRACE/TAGS parameters of an HttpCache SET,
// per spec.md §4.7's SET semantics.
type SetOptions struct {
	TTL   time.Duration // zero means "no TTL" (not cacheable for freshness)
	SWR   time.Duration
	Grace time.Duration
	Tags  []string
}

// ApplySet computes the three deadlines SET semantics derive from
// TTL/SWR/GRACE and stamps the tags_epoch from the current registry state,
// writing them onto sv. The caller is responsible for clearing previous tag
// associations in the shard's tag index before calling AddTagsForKey again
// — spec.md §4.7's "A write overwriting an existing HttpCache entry MUST
// clear its previous tag associations before adding new ones."
func ApplySet(sv *storage.StoredValue, opts SetOptions, tags *TagRegistry, now time.Time) {
	if opts.TTL > 0 {
		sv.Expiry = now.Add(opts.TTL)
		sv.StaleRevalidateExpiry = sv.Expiry.Add(opts.SWR)
		sv.GraceExpiry = sv.StaleRevalidateExpiry.Add(opts.Grace)
	} else {
		sv.Expiry = time.Time{}
		if opts.SWR > 0 {
			sv.StaleRevalidateExpiry = now.Add(opts.SWR)
		}
		if opts.Grace > 0 {
			sv.GraceExpiry = now.Add(opts.SWR + opts.Grace)
		}
	}
	if sv.Data.HTTPCache != nil {
		sv.Data.HTTPCache.TagsEpoch = tags.CurrentEpoch(opts.Tags)
	}
}

// SoftPurge implements spec.md §4.7's "SOFTPURGE / SOFTPURGETAG": sets
// expiry = now but leaves stale_revalidate_expiry and grace_expiry intact,
// so the entry transitions into its stale window rather than disappearing.
func SoftPurge(sv *storage.StoredValue, now time.Time) {
	sv.Expiry = now
}
