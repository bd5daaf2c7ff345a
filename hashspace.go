package vring

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"math/big"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Algorithm describes the digest used to place keys on the hash space.
// Max is the largest value the digest can take, so the ring covers
// [0, Max] and each vnode owns an equal slice of it.
type Algorithm struct {
	Name string
	Max  *big.Int
}

// The supported digest algorithms.
var (
	SHA256 = Algorithm{Name: "sha256", Max: maxDigest(256)}
	SHA1   = Algorithm{Name: "sha1", Max: maxDigest(160)}
	MD5    = Algorithm{Name: "md5", Max: maxDigest(128)}
)

var digests = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha1":   sha1.New,
	"md5":    md5.New,
}

func maxDigest(bits uint) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), bits)
	return max.Sub(max, big.NewInt(1))
}

func algorithmByName(name string) (Algorithm, error) {
	switch name {
	case SHA256.Name:
		return SHA256, nil
	case SHA1.Name:
		return SHA1, nil
	case MD5.Name:
		return MD5, nil
	}
	return Algorithm{}, errors.Wrap(ErrUnknownAlgorithm, "", j.KV("algorithm", name))
}

// digest hashes key and returns the digest as a big integer. Digests
// routinely exceed the machine word size, so everything downstream of
// here is arbitrary precision.
func (a Algorithm) digest(key string) *big.Int {
	h := digests[a.Name]()
	_, _ = h.Write([]byte(key))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// hashspace divides [0, Max] into vnode-count equal intervals.
type hashspace struct {
	algo     Algorithm
	count    int
	interval *big.Int
}

func newHashspace(algo Algorithm, count int) hashspace {
	return hashspace{
		algo:     algo,
		count:    count,
		interval: new(big.Int).Div(algo.Max, big.NewInt(int64(count))),
	}
}

// vnode maps a digest to the vnode owning it. Because the interval is
// the floor of Max/count, digests in the remainder tail above
// count*interval would map past the last vnode; they are clamped onto
// it so every representable digest has an owner.
func (h hashspace) vnode(digest *big.Int) int {
	v := int(new(big.Int).Div(digest, h.interval).Int64())
	if v >= h.count {
		v = h.count - 1
	}
	return v
}

// lowerBound returns the smallest digest owned by vnode v.
func (h hashspace) lowerBound(v int) *big.Int {
	return new(big.Int).Mul(h.interval, big.NewInt(int64(v)))
}

// locate hashes key and returns the vnode owning its digest.
func (h hashspace) locate(key string) int {
	return h.vnode(h.algo.digest(key))
}
