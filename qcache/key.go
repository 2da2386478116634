package qcache

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

// SHA1Hash identifies cached group state. The zero value is never produced by ComputeSHA1 in practice and is
// used to mean "no key".
type SHA1Hash [sha1.Size]byte

func ComputeSHA1(data []byte) SHA1Hash {
	return sha1.Sum(data)
}

func ComputeSHA1String(s string) SHA1Hash {
	return sha1.Sum([]byte(s))
}

func (h SHA1Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h SHA1Hash) IsZero() bool {
	return h == SHA1Hash{}
}

// CacheKey combines the identity of the upstream data with the identity of the aggregation plan.
func CacheKey(upstream SHA1Hash, planFingerprint string) SHA1Hash {
	return ComputeSHA1String(upstream.String() + "~" + planFingerprint)
}

const FileSuffix = ".qcache"

func Path(dir string, key SHA1Hash) string {
	return filepath.Join(dir, key.String()+FileSuffix)
}
