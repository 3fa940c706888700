package storage

// httpvalue.go defines the HttpCache DataValue variant's shape: per spec.md
// §3 "HttpCache details". Freshness-window math and variant *selection*
// logic live in internal/httpcache, which operates on these types under a
// shard lock the same way any other command logic does; the types
// themselves live here because they are one arm of the StoredValue tagged
// union like any other data type.

// BodyKind selects which of the four wire-body representations a Variant
// holds.
type BodyKind uint8

const (
	BodyInMemory BodyKind = iota
	BodyCompressedInMemory
	BodyOnDisk
	BodyNegative
)

// Body is the tagged union of cached-response payload representations.
type Body struct {
	Kind BodyKind

	// BodyInMemory
	Data []byte

	// BodyCompressedInMemory
	CompressedData []byte
	Codec          string // e.g. "zstd"

	// BodyOnDisk — the blob itself lives in the external storage
	// collaborator (badger); Path is its key there, not a filesystem path.
	Path string
	Len  int64

	// BodyNegative
	Status int
	NegBody []byte
}

// ResponseMetadata carries the conditional-GET and revalidation fields of a
// cached response.
type ResponseMetadata struct {
	RevalidateURL   string
	ETag            string
	LastModified    string
	ResponseHeaders map[string][]string
}

func (m ResponseMetadata) memoryUsage() int {
	total := len(m.RevalidateURL) + len(m.ETag) + len(m.LastModified)
	for k, vs := range m.ResponseHeaders {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
	}
	return total
}

func (m ResponseMetadata) clone() ResponseMetadata {
	hdrs := make(map[string][]string, len(m.ResponseHeaders))
	for k, vs := range m.ResponseHeaders {
		cp := make([]string, len(vs))
		copy(cp, vs)
		hdrs[k] = cp
	}
	return ResponseMetadata{
		RevalidateURL:   m.RevalidateURL,
		ETag:            m.ETag,
		LastModified:    m.LastModified,
		ResponseHeaders: hdrs,
	}
}

// Variant is one cached response selected by a Vary signature.
type Variant struct {
	Body     Body
	Metadata ResponseMetadata
}

func (v Variant) memoryUsage() int {
	total := v.Metadata.memoryUsage()
	switch v.Body.Kind {
	case BodyInMemory:
		total += len(v.Body.Data)
	case BodyCompressedInMemory:
		total += len(v.Body.CompressedData) + len(v.Body.Codec)
	case BodyOnDisk:
		total += len(v.Body.Path) // the body itself is accounted by the blob store
	case BodyNegative:
		total += len(v.Body.NegBody)
	}
	return total
}

// HTTPCache is the HttpCache DataValue variant.
type HTTPCache struct {
	// Variants is keyed by the Vary signature: the values of the headers
	// named in VaryOn, joined in VaryOn order, as computed by
	// httpcache.VarySignature.
	Variants map[string]*Variant
	VaryOn   []string
	// TagsEpoch is the cluster-wide logical tag clock observed at write
	// time; see internal/httpcache for the comparison logic.
	TagsEpoch uint64
}

func NewHTTPCache(varyOn []string) *HTTPCache {
	return &HTTPCache{
		Variants: make(map[string]*Variant),
		VaryOn:   append([]string(nil), varyOn...),
	}
}

func (h *HTTPCache) memoryUsage() int {
	total := 8
	for _, v := range h.VaryOn {
		total += len(v)
	}
	for sig, variant := range h.Variants {
		total += len(sig) + variant.memoryUsage()
	}
	return total
}

func (h *HTTPCache) clone() *HTTPCache {
	clone := NewHTTPCache(h.VaryOn)
	clone.TagsEpoch = h.TagsEpoch
	for sig, v := range h.Variants {
		nv := &Variant{Body: v.Body, Metadata: v.Metadata.clone()}
		clone.Variants[sig] = nv
	}
	return clone
}
