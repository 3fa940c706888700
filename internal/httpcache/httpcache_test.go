package httpcache

import (
	"testing"
	"time"

	"github.com/Voskan/spineldb/internal/storage"
)

func TestClassifyFreshness(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	expiry := now.Add(10 * time.Second)
	swr := expiry.Add(10 * time.Second)
	grace := swr.Add(10 * time.Second)

	cases := []struct {
		at   time.Time
		want Freshness
	}{
		{now, FreshFresh},
		{expiry.Add(time.Second), FreshStaleRevalidate},
		{swr.Add(time.Second), FreshStaleGraceOnly},
		{grace.Add(time.Second), FreshMiss},
	}
	for _, c := range cases {
		if got := ClassifyFreshness(c.at, expiry, swr, grace); got != c.want {
			t.Fatalf("at %v: expected %v, got %v", c.at, c.want, got)
		}
	}
}

func TestVarySignatureOrderAndCase(t *testing.T) {
	headers := map[string]string{"accept-encoding": "gzip", "x-custom": "a"}
	lookup := func(name string) string { return headers[name] }

	sig1 := VarySignature([]string{"Accept-Encoding", "X-Custom"}, lookup)
	sig2 := VarySignature([]string{"accept-encoding", "x-custom"}, lookup)
	if sig1 != sig2 {
		t.Fatalf("expected case-insensitive header name lookup to produce identical signatures")
	}

	sig3 := VarySignature([]string{"X-Custom", "Accept-Encoding"}, lookup)
	if sig1 == sig3 {
		t.Fatalf("expected different vary_on order to (generally) produce a different signature")
	}
}

func TestTagRegistryInvalidatesOnBump(t *testing.T) {
	r := NewTagRegistry()
	epoch := r.CurrentEpoch([]string{"tagA"})
	if !r.TagsValid([]string{"tagA"}, epoch) {
		t.Fatalf("freshly stamped epoch must be valid")
	}

	r.Bump("tagA")
	if r.TagsValid([]string{"tagA"}, epoch) {
		t.Fatalf("expected bumping tagA to invalidate entries stamped before the bump")
	}
}

func TestPurgeRegistryGlobMatch(t *testing.T) {
	r := NewPurgeRegistry()
	r.Add("/api/users/*")

	if !r.Matches("/api/users/42") {
		t.Fatalf("expected glob pattern to match")
	}
	if r.Matches("/api/orders/42") {
		t.Fatalf("expected non-matching path to not match")
	}
}

func TestLeaseRegistryMutualExclusion(t *testing.T) {
	r := NewLeaseRegistry()
	now := time.Now()

	if !r.TryAcquire("k", time.Second, now) {
		t.Fatalf("expected first acquire to succeed")
	}
	if r.TryAcquire("k", time.Second, now) {
		t.Fatalf("expected second concurrent acquire to fail while lease is live")
	}
	if !r.TryAcquire("k", time.Second, now.Add(2*time.Second)) {
		t.Fatalf("expected acquire to succeed once the prior lease has lapsed")
	}
}

func TestLeaseRegistryReacquireAfterExpiry(t *testing.T) {
	r := NewLeaseRegistry()
	now := time.Now()
	r.TryAcquire("k", 10*time.Millisecond, now)

	later := now.Add(50 * time.Millisecond)
	if !r.TryAcquire("k", time.Second, later) {
		t.Fatalf("expected reacquire to succeed once the prior lease has expired")
	}
}

func TestSelectVariantMissOnTagInvalidation(t *testing.T) {
	entry := storage.NewHTTPCache([]string{"Accept-Encoding"})
	entry.Variants[""] = &storage.Variant{
		Body:     storage.Body{Kind: storage.BodyInMemory, Data: []byte("hello")},
		Metadata: storage.ResponseMetadata{},
	}

	tags := NewTagRegistry()
	sv := storage.New(storage.DataValue{Kind: storage.KindHTTPCache, HTTPCache: entry})
	sv.Expiry = time.Now().Add(time.Hour)
	entry.TagsEpoch = tags.CurrentEpoch([]string{"t"})

	lookup := func(string) string { return "" }

	variant, fresh, ok := SelectVariant(entry, lookup, time.Now(), sv, tags, []string{"t"})
	if !ok || fresh != FreshFresh || variant == nil {
		t.Fatalf("expected a fresh hit before any tag bump, got ok=%v fresh=%v", ok, fresh)
	}

	tags.Bump("t")
	_, _, ok = SelectVariant(entry, lookup, time.Now(), sv, tags, []string{"t"})
	if ok {
		t.Fatalf("expected PURGETAG-style bump to invalidate the entry")
	}
}

func TestApplySetComputesWindows(t *testing.T) {
	sv := storage.New(storage.DataValue{Kind: storage.KindHTTPCache, HTTPCache: storage.NewHTTPCache(nil)})
	now := time.Unix(1000, 0)

	ApplySet(sv, SetOptions{TTL: 10 * time.Second, SWR: 5 * time.Second, Grace: 2 * time.Second}, NewTagRegistry(), now)

	if !sv.Expiry.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("unexpected expiry: %v", sv.Expiry)
	}
	if !sv.StaleRevalidateExpiry.Equal(sv.Expiry.Add(5 * time.Second)) {
		t.Fatalf("unexpected stale_revalidate_expiry: %v", sv.StaleRevalidateExpiry)
	}
	if !sv.GraceExpiry.Equal(sv.StaleRevalidateExpiry.Add(2 * time.Second)) {
		t.Fatalf("unexpected grace_expiry: %v", sv.GraceExpiry)
	}
}

func TestSoftPurgeKeepsStaleWindowsIntact(t *testing.T) {
	sv := storage.New(storage.DataValue{Kind: storage.KindHTTPCache, HTTPCache: storage.NewHTTPCache(nil)})
	now := time.Unix(2000, 0)
	sv.Expiry = now.Add(time.Hour)
	sv.StaleRevalidateExpiry = now.Add(2 * time.Hour)
	sv.GraceExpiry = now.Add(3 * time.Hour)

	SoftPurge(sv, now)

	if !sv.Expiry.Equal(now) {
		t.Fatalf("expected expiry to be set to now, got %v", sv.Expiry)
	}
	if !sv.StaleRevalidateExpiry.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("expected stale_revalidate_expiry untouched")
	}
	if !sv.GraceExpiry.Equal(now.Add(3 * time.Hour)) {
		t.Fatalf("expected grace_expiry untouched")
	}
}

func TestApplyConditionalETagMatch(t *testing.T) {
	meta := storage.ResponseMetadata{ETag: `"abc123"`}
	if got := ApplyConditional(meta, `"abc123"`, ""); got != ConditionalNotModified {
		t.Fatalf("expected ConditionalNotModified on exact ETag match, got %v", got)
	}
	if got := ApplyConditional(meta, `"different"`, ""); got != ConditionalFull {
		t.Fatalf("expected ConditionalFull on ETag mismatch, got %v", got)
	}
	if got := ApplyConditional(meta, "", ""); got != ConditionalNotApplicable {
		t.Fatalf("expected ConditionalNotApplicable with no conditional headers, got %v", got)
	}
}

func TestCompressBodyRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated.")
	compressed, codec := CompressBody(original)
	if codec != "zstd" {
		t.Fatalf("expected zstd codec, got %q", codec)
	}
	got, err := DecompressBody(compressed, codec)
	if err != nil {
		t.Fatalf("DecompressBody failed: %v", err)
	}
	if string(got) != string(original) {
		t.Fatalf("round trip mismatch")
	}
}
