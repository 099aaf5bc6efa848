package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Key prefixes for BadgerDB storage organization.
const (
	prefixMeta  = byte(0x01) // meta:name -> imageMeta
	prefixPixel = byte(0x02) // pixel:name:sec:comp -> count
)

const (
	metaVersion = byte(1)
	metaSize    = 1 + 8 + 8 + blake2b.Size256
	rowSize     = 8 + 8 + 8
)

var errCorrupt = errors.New("corrupt image")

// imageMeta is the per-image header record.
//
// Layout: version(1) pixelCount(8) occurrenceCount(8) checksum(32)
type imageMeta struct {
	pixels   uint64
	occ      uint64
	checksum [blake2b.Size256]byte
}

func (m imageMeta) encode() []byte {
	buf := make([]byte, metaSize)
	buf[0] = metaVersion
	binary.BigEndian.PutUint64(buf[1:], m.pixels)
	binary.BigEndian.PutUint64(buf[9:], m.occ)
	copy(buf[17:], m.checksum[:])
	return buf
}

func decodeMeta(buf []byte) (imageMeta, error) {
	var m imageMeta
	if len(buf) != metaSize || buf[0] != metaVersion {
		return m, fmt.Errorf("%w: bad meta record (%d bytes)", errCorrupt, len(buf))
	}
	m.pixels = binary.BigEndian.Uint64(buf[1:])
	m.occ = binary.BigEndian.Uint64(buf[9:])
	copy(m.checksum[:], buf[17:])
	return m, nil
}

// metaKey creates the key for an image's meta record.
// Format: prefix + name + 0x00
func metaKey(name string) []byte {
	return appendMetaKey(make([]byte, 0, len(name)+2), name)
}

func appendMetaKey(dst []byte, name string) []byte {
	dst = append(dst, prefixMeta)
	dst = append(dst, name...)
	return append(dst, 0x00)
}

// pixelPrefix returns the prefix for scanning all pixels of an image.
func pixelPrefix(name string) []byte {
	key := make([]byte, 0, len(name)+2)
	key = append(key, prefixPixel)
	key = append(key, name...)
	return append(key, 0x00)
}

// appendPixelKey appends the row key of k to prefix. Sec has its sign bit
// flipped so that big-endian byte order matches signed numeric order.
func appendPixelKey(prefix []byte, k Key) []byte {
	prefix = binary.BigEndian.AppendUint64(prefix, uint64(k.Sec)^(1<<63))
	return binary.BigEndian.AppendUint64(prefix, k.Comp)
}

func decodePixelKey(key []byte, prefixLen int) (Key, error) {
	if len(key) != prefixLen+16 {
		return Key{}, fmt.Errorf("%w: bad pixel key length %d", errCorrupt, len(key))
	}
	rest := key[prefixLen:]
	return Key{
		Sec:  int64(binary.BigEndian.Uint64(rest) ^ (1 << 63)),
		Comp: binary.BigEndian.Uint64(rest[8:]),
	}, nil
}

func encodeCount(c uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, c)
}

func decodeCount(v []byte) (uint64, error) {
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: bad count length %d", errCorrupt, len(v))
	}
	c := binary.BigEndian.Uint64(v)
	if c == 0 {
		return 0, fmt.Errorf("%w: zero count stored", errCorrupt)
	}
	return c, nil
}

// checksummer hashes pixel rows in order.
type checksummer struct {
	h   hash.Hash
	row [rowSize]byte
}

func newChecksummer() *checksummer {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	return &checksummer{h: h}
}

func (c *checksummer) add(p Pixel) {
	binary.BigEndian.PutUint64(c.row[0:], uint64(p.Sec))
	binary.BigEndian.PutUint64(c.row[8:], p.Comp)
	binary.BigEndian.PutUint64(c.row[16:], p.Count)
	c.h.Write(c.row[:])
}

func (c *checksummer) sum() [blake2b.Size256]byte {
	var out [blake2b.Size256]byte
	copy(out[:], c.h.Sum(nil))
	return out
}
