package vring

import (
	"context"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// payloadSentinel is the wire representation of "no payload". It is a
// JSON number, so it can never collide with a caller payload, which is
// always a JSON string.
const payloadSentinel = 1

// Snapshot is the complete serializable description of a ring: the
// vnode count, the digest algorithm, every pnode with the vnodes it
// owns and their payloads, and the engine version that wrote it.
type Snapshot struct {
	Vnodes    int
	Algorithm Algorithm
	Version   string

	// Members maps pnode name to owned vnode to payload.
	Members map[string]map[int]Payload
}

type algorithmJSON struct {
	Name     string `json:"NAME"`
	Max      string `json:"MAX"`
	Interval string `json:"VNODE_HASH_INTERVAL"`
}

type snapshotJSON struct {
	Vnodes          int                               `json:"vnodes"`
	PnodeToVnodeMap map[string]map[string]interface{} `json:"pnodeToVnodeMap"`
	Algorithm       algorithmJSON                     `json:"algorithm"`
	Version         string                            `json:"version"`
}

// MarshalJSON emits the canonical topology document.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	members := make(map[string]map[string]interface{}, len(s.Members))
	for pnode, owned := range s.Members {
		m := make(map[string]interface{}, len(owned))
		for v, p := range owned {
			m[strconv.Itoa(v)] = encodePayload(p)
		}
		members[pnode] = m
	}
	hs := newHashspace(s.Algorithm, s.Vnodes)
	return json.Marshal(snapshotJSON{
		Vnodes:          s.Vnodes,
		PnodeToVnodeMap: members,
		Algorithm: algorithmJSON{
			Name:     s.Algorithm.Name,
			Max:      s.Algorithm.Max.Text(16),
			Interval: hs.interval.Text(16),
		},
		Version: s.Version,
	})
}

func encodePayload(p Payload) interface{} {
	if !p.Have {
		return payloadSentinel
	}
	return p.Value
}

func decodePayload(raw interface{}) (Payload, error) {
	switch v := raw.(type) {
	case string:
		return PayloadOf(v), nil
	case float64:
		if v == payloadSentinel {
			return Payload{}, nil
		}
	}
	return Payload{}, errors.New("invalid payload value", j.KV("value", raw))
}

// ParseSnapshot parses a serialized topology document and enforces the
// version compatibility rule: a snapshot written by a strictly newer
// engine is rejected.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var doc snapshotJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse snapshot")
	}
	if err := compatible(doc.Version); err != nil {
		return nil, err
	}
	if doc.Vnodes <= 0 {
		return nil, errors.Wrap(ErrInvalidVnodeCount, "", j.KV("vnodes", doc.Vnodes))
	}
	algo, err := algorithmByName(doc.Algorithm.Name)
	if err != nil {
		return nil, err
	}

	members := make(map[string]map[int]Payload, len(doc.PnodeToVnodeMap))
	for pnode, owned := range doc.PnodeToVnodeMap {
		m := make(map[int]Payload, len(owned))
		for key, raw := range owned {
			v, err := strconv.Atoi(key)
			if err != nil {
				return nil, errors.Wrap(err, "parse vnode key", j.KV("key", key))
			}
			p, err := decodePayload(raw)
			if err != nil {
				return nil, errors.Wrap(err, "", j.MKV{"pnode": pnode, "vnode": v})
			}
			m[v] = p
		}
		members[pnode] = m
	}

	return &Snapshot{
		Vnodes:    doc.Vnodes,
		Algorithm: algo,
		Version:   doc.Version,
		Members:   members,
	}, nil
}

// partition flattens the snapshot into per-vnode owner and payload
// slices, verifying that every vnode is owned exactly once.
func (s *Snapshot) partition() ([]string, []Payload, error) {
	owners := make([]string, s.Vnodes)
	payloads := make([]Payload, s.Vnodes)
	for pnode, owned := range s.Members {
		for v, p := range owned {
			if v < 0 || v >= s.Vnodes {
				return nil, nil, errors.Wrap(ErrVnodeOutOfRange, "", j.MKV{
					"vnode": v, "count": s.Vnodes,
				})
			}
			if owners[v] != "" {
				return nil, nil, errors.Wrap(ErrCorruptTopology, "vnode owned twice", j.MKV{
					"vnode": v, "owners": owners[v] + "," + pnode,
				})
			}
			owners[v] = pnode
			payloads[v] = p
		}
	}
	for v, owner := range owners {
		if owner == "" {
			return nil, nil, errors.Wrap(ErrCorruptTopology, "vnode unowned", j.KV("vnode", v))
		}
	}
	return owners, payloads, nil
}

// buildSnapshot enumerates a store into a Snapshot stamped with the
// running engine's version.
func buildSnapshot(ctx context.Context, store Store) (*Snapshot, error) {
	algo, err := store.Algorithm(ctx)
	if err != nil {
		return nil, err
	}
	count, err := store.VnodeCount(ctx)
	if err != nil {
		return nil, err
	}
	pnodes, err := store.Pnodes(ctx)
	if err != nil {
		return nil, err
	}

	members := make(map[string]map[int]Payload, len(pnodes))
	for _, pnode := range pnodes {
		vnodes, err := store.Vnodes(ctx, pnode)
		if err != nil {
			return nil, err
		}
		m := make(map[int]Payload, len(vnodes))
		for _, v := range vnodes {
			p, err := store.Payload(ctx, v)
			if err != nil {
				return nil, err
			}
			m[v] = p
		}
		members[pnode] = m
	}

	return &Snapshot{
		Vnodes:    count,
		Algorithm: algo,
		Version:   Version,
		Members:   members,
	}, nil
}
