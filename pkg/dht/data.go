package dht

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/md4"
)

// DigestSize is the size in bytes of the engine's key space identifiers.
const DigestSize = 16

// Digest is a fixed-size identifier in the DHT's key space.
// Keys and values are squeezed into a Digest before they are handed to the engine.
type Digest [DigestSize]byte

// String renders the digest the way Kad-style engines print indexes: '#' followed by hex.
func (d Digest) String() string {
	return "#" + strings.ToUpper(hex.EncodeToString(d[:]))
}

// ParseDigest parses the output of Digest.String. The leading '#' is optional.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("invalid digest %q: expected %d bytes, got %d", s, DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// DigestOf maps data into the key space.
// With hashAllowed the data is hashed with MD4; otherwise it is used verbatim and
// zero-padded, which requires the data to fit into DigestSize bytes.
func DigestOf(data []byte, hashAllowed bool) (Digest, error) {
	var d Digest
	if hashAllowed {
		h := md4.New()
		h.Write(data)
		copy(d[:], h.Sum(nil))
		return d, nil
	}
	if len(data) > DigestSize {
		return d, fmt.Errorf("%w: max length %d bytes without hash transform, got %d bytes",
			ErrDataTooLarge, DigestSize, len(data))
	}
	copy(d[:], data)
	return d, nil
}

// Metadata holds string name/value pairs attached to a Value.
// Order is irrelevant; each name maps to exactly one value.
type Metadata map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same pairs.
func (m Metadata) Equal(o Metadata) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Encode flattens the metadata into "name=value;name2=value2", sorted by name.
func (m Metadata) Encode() string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

// ParseMetadata is the inverse of Encode. Empty segments are skipped.
func ParseMetadata(s string) (Metadata, error) {
	m := make(Metadata)
	if s == "" {
		return m, nil
	}
	for _, pair := range strings.Split(s, ";") {
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid metadata pair %q", pair)
		}
		m[name] = value
	}
	return m, nil
}

// Key indexes a value in the DHT. Keys are immutable; the bytes are copied in and out.
type Key struct {
	data        []byte
	hashAllowed bool
}

// NewKey builds a key the engine may hash into its key space.
func NewKey(data []byte) Key {
	return Key{data: append([]byte(nil), data...), hashAllowed: true}
}

// KeyString builds a hashable key from a string.
func KeyString(s string) Key {
	return Key{data: []byte(s), hashAllowed: true}
}

// RawKey builds a key that must be used verbatim (at most DigestSize bytes).
func RawKey(data []byte) Key {
	return Key{data: append([]byte(nil), data...)}
}

// Bytes returns a copy of the key data.
func (k Key) Bytes() []byte { return append([]byte(nil), k.data...) }

// Len returns the length of the key data.
func (k Key) Len() int { return len(k.data) }

// HashAllowed reports whether the engine may derive a digest from the data.
func (k Key) HashAllowed() bool { return k.hashAllowed }

// Digest maps the key into the key space.
func (k Key) Digest() (Digest, error) { return DigestOf(k.data, k.hashAllowed) }

// String returns the key data as a string, for logging.
func (k Key) String() string { return string(k.data) }

// Equal compares data and hash flag.
func (k Key) Equal(o Key) bool {
	return k.hashAllowed == o.hashAllowed && string(k.data) == string(o.data)
}

// Value is stored in the DHT under a Key, optionally carrying metadata.
// Metadata is never hashed: it must come back exactly as stored or not at all.
type Value struct {
	data        []byte
	hashAllowed bool
	meta        Metadata
}

// NewValue builds a hashable value.
func NewValue(data []byte, meta Metadata) Value {
	return Value{data: append([]byte(nil), data...), hashAllowed: true, meta: meta.Clone()}
}

// ValueString builds a hashable value from a string.
func ValueString(s string, meta Metadata) Value {
	return Value{data: []byte(s), hashAllowed: true, meta: meta.Clone()}
}

// RawValue builds a value that must be stored verbatim.
func RawValue(data []byte, meta Metadata) Value {
	return Value{data: append([]byte(nil), data...), meta: meta.Clone()}
}

// Bytes returns a copy of the value data.
func (v Value) Bytes() []byte { return append([]byte(nil), v.data...) }

// Len returns the length of the value data.
func (v Value) Len() int { return len(v.data) }

// HashAllowed reports whether the engine may derive a digest from the data.
func (v Value) HashAllowed() bool { return v.hashAllowed }

// Meta returns a copy of the metadata.
func (v Value) Meta() Metadata { return v.meta.Clone() }

// Digest maps the value data into the key space.
func (v Value) Digest() (Digest, error) { return DigestOf(v.data, v.hashAllowed) }

// String returns the value data as a string, for logging.
func (v Value) String() string { return string(v.data) }
