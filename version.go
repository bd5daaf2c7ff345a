package vring

import (
	"github.com/Masterminds/semver"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Version is the engine build version. It is stamped into every
// serialized snapshot and persisted store so a later loader can tell
// whether it understands the stored layout.
const Version = "2.0.1"

var engineVersion = semver.MustParse(Version)

// compatible returns an error if stored was written by a strictly
// newer engine. Anything up to and including our own version loads.
func compatible(stored string) error {
	sv, err := semver.NewVersion(stored)
	if err != nil {
		return errors.Wrap(err, "parse stored version", j.KV("version", stored))
	}
	if sv.GreaterThan(engineVersion) {
		return errors.Wrap(ErrIncompatibleVersion, "", j.MKV{
			"stored": stored,
			"engine": Version,
		})
	}
	return nil
}
