package storage

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Voskan/spineldb/internal/resp"
)

// constructionChunkSize bounds how many container elements go into a single
// reconstruction command, per spec.md §4.2 ("lists/hashes/sets/zsets are
// emitted in batches of ≤ 50 elements").
const constructionChunkSize = 50

// ConstructionCommand is the minimal command needed to (re)create one piece
// of a StoredValue during AOF rewrite. It intentionally does not reuse any
// richer "Command" abstraction from internal/exec: AOF replay only ever
// needs a name and a flat argument list to serialize to a Frame, and command
// *parsing* is explicitly out of this core's scope (spec.md §1).
type ConstructionCommand struct {
	Name string
	Args [][]byte
}

// ToFrame renders the command as the RESP array AOF files are made of.
func (c ConstructionCommand) ToFrame() resp.Frame {
	elems := make([]resp.Frame, 0, len(c.Args)+1)
	elems = append(elems, resp.BulkString([]byte(c.Name)))
	for _, a := range c.Args {
		elems = append(elems, resp.BulkString(a))
	}
	return resp.ArrayOf(elems...)
}

func cmd(name string, args ...[]byte) ConstructionCommand {
	return ConstructionCommand{Name: name, Args: args}
}

func bstr(s string) []byte { return []byte(s) }

// ToConstructionCommands serializes v as the minimal command sequence that
// recreates it, per spec.md §4.2. HttpCache on-disk and negative variants
// are skipped (they are not self-contained without the external blob
// store); in-memory and compressed-in-memory variants are each emitted as
// their own CACHE.SET. A trailing PEXPIREAT is appended for every
// non-HttpCache value, strings included, that carries an expiry
// (HttpCache embeds its own TTL/SWR/GRACE directly in CACHE.SET).
func (v *StoredValue) ToConstructionCommands(key []byte, now time.Time) []ConstructionCommand {
	var out []ConstructionCommand

	switch v.Data.Kind {
	case KindString:
		out = append(out, cmd("SET", key, v.Data.Str))

	case KindList:
		vals := v.Data.List.Values()
		for i := 0; i < len(vals); i += constructionChunkSize {
			end := min(i+constructionChunkSize, len(vals))
			args := make([][]byte, 0, end-i+1)
			args = append(args, key)
			args = append(args, vals[i:end]...)
			out = append(out, cmd("RPUSH", args...))
		}

	case KindHash:
		var batch [][]byte
		flush := func() {
			if len(batch) == 0 {
				return
			}
			args := make([][]byte, 0, len(batch)+1)
			args = append(args, key)
			args = append(args, batch...)
			out = append(out, cmd("HSET", args...))
			batch = nil
		}
		v.Data.Hash.Range(func(k, val []byte) {
			batch = append(batch, k, val)
			if len(batch)/2 >= constructionChunkSize {
				flush()
			}
		})
		flush()

	case KindSet:
		members := v.Data.Set.Members()
		for i := 0; i < len(members); i += constructionChunkSize {
			end := min(i+constructionChunkSize, len(members))
			args := make([][]byte, 0, end-i+1)
			args = append(args, key)
			args = append(args, members[i:end]...)
			out = append(out, cmd("SADD", args...))
		}

	case KindSortedSet:
		entries := v.Data.SortedSet.Entries()
		for i := 0; i < len(entries); i += constructionChunkSize {
			end := min(i+constructionChunkSize, len(entries))
			args := make([][]byte, 0, (end-i)*2+1)
			args = append(args, key)
			for _, e := range entries[i:end] {
				args = append(args, bstr(strconv.FormatFloat(e.Score, 'g', -1, 64)), e.Member)
			}
			out = append(out, cmd("ZADD", args...))
		}

	case KindStream:
		for _, e := range v.Data.Stream.Entries {
			args := make([][]byte, 0, len(e.Fields)*2+2)
			args = append(args, key, bstr(e.ID.String()))
			for _, f := range e.Fields {
				args = append(args, f.Field, f.Value)
			}
			out = append(out, cmd("XADD", args...))
		}

	case KindJSON:
		b, _ := json.Marshal(v.Data.JSON.Root)
		out = append(out, cmd("JSON.SET", key, bstr("$"), b))

	case KindHTTPCache:
		out = append(out, v.httpCacheConstructionCommands(key, now)...)
	}

	if v.Data.Kind != KindHTTPCache && !v.Expiry.IsZero() {
		ms := v.Expiry.UnixMilli()
		out = append(out, cmd("PEXPIREAT", key, bstr(strconv.FormatInt(ms, 10))))
	}

	return out
}

// httpCacheConstructionCommands emits one CACHE.SET per in-memory variant,
// embedding the fresh/SWR/grace durations (seconds, relative to now) the
// same way as CACHE.SET's own parameters. On-disk and negative variants are
// not self-contained without the external blob store and are skipped, per
// spec.md §4.2. Tag associations are not reconstructed, matching the tagged
// write they originated from being replayed as untagged on reload; the
// cluster-wide tag epoch is still recoverable from the next PURGETAG.
func (v *StoredValue) httpCacheConstructionCommands(key []byte, now time.Time) []ConstructionCommand {
	hc := v.Data.HTTPCache
	var out []ConstructionCommand

	var ttlSecs, swrSecs, graceSecs int64
	if !v.Expiry.IsZero() {
		if d := v.Expiry.Sub(now); d > 0 {
			ttlSecs = int64(d.Seconds())
		}
	}
	if !v.StaleRevalidateExpiry.IsZero() && !v.Expiry.IsZero() {
		if d := v.StaleRevalidateExpiry.Sub(v.Expiry); d > 0 {
			swrSecs = int64(d.Seconds())
		}
	}
	if !v.GraceExpiry.IsZero() && !v.StaleRevalidateExpiry.IsZero() {
		if d := v.GraceExpiry.Sub(v.StaleRevalidateExpiry); d > 0 {
			graceSecs = int64(d.Seconds())
		}
	}

	vary := bstr(strings.Join(hc.VaryOn, ","))

	sigs := make([]string, 0, len(hc.Variants))
	for sig := range hc.Variants {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)

	for _, sig := range sigs {
		variant := hc.Variants[sig]

		var body []byte
		switch variant.Body.Kind {
		case BodyInMemory:
			body = variant.Body.Data
		case BodyCompressedInMemory:
			body = variant.Body.CompressedData
		default:
			// On-disk and negative bodies are not self-contained; skipped.
			continue
		}

		args := [][]byte{
			key, body,
			bstr("TTL"), bstr(strconv.FormatInt(ttlSecs, 10)),
			bstr("SWR"), bstr(strconv.FormatInt(swrSecs, 10)),
			bstr("GRACE"), bstr(strconv.FormatInt(graceSecs, 10)),
			bstr("VARY"), vary,
		}
		if variant.Metadata.RevalidateURL != "" {
			args = append(args, bstr("REVALIDATE"), bstr(variant.Metadata.RevalidateURL))
		}
		if variant.Metadata.ETag != "" {
			args = append(args, bstr("ETAG"), bstr(variant.Metadata.ETag))
		}
		if variant.Metadata.LastModified != "" {
			args = append(args, bstr("LASTMOD"), bstr(variant.Metadata.LastModified))
		}
		if variant.Body.Kind == BodyCompressedInMemory {
			args = append(args, bstr("COMPRESSED"), bstr(variant.Body.Codec))
		}

		out = append(out, cmd("CACHE.SET", args...))
	}

	return out
}
