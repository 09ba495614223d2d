package def

import (
	"crypto/sha256"
	"fmt"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/misc"
	"github.com/polydawn/refmt/obj/atlas"
)

// digestInput is the canonical, flattened shape fed to the hash. It exists
// separately from View because Transformation is an interface -- refmt's
// atlas needs concrete fields to walk, not a polymorphic value -- and
// because a view's identity/digest should not accidentally change just
// because an unrelated field was added to View for bookkeeping.
type digestInput struct {
	FullPath       string
	Dependencies   []ViewID
	ResourceHashes []string
	TxKind         string
	TxDetail       string
}

var digestInputAtlasEntry = atlas.BuildEntry(digestInput{}).StructMap().Autogenerate().Complete()

var digestAtlas = atlas.MustBuild(digestInputAtlasEntry)

func transformationDetail(t Transformation) string {
	switch x := t.(type) {
	case NoOpTransformation:
		return ""
	case FilesystemTransformation:
		return x.SourcePath
	case ComputeTransformation:
		return fmt.Sprintf("%s|%s|%v", x.Driver, x.Command, x.Args)
	case FaultyTransformation:
		return fmt.Sprintf("faulty:%d", x.FailuresBeforeSuccess)
	default:
		return fmt.Sprintf("%T", x)
	}
}

func canonicalDigest(in digestInput) string {
	msg, err := refmt.MarshalAtlased(cbor.EncodeOptions{}, in, digestAtlas)
	if err != nil {
		// in must be flat concrete data; a marshal failure here means a
		// field was added to digestInput that the atlas doesn't cover.
		panic(err)
	}
	sum := sha256.Sum256(msg)
	return misc.Base58Encode(sum[:])
}

// ComputeViewID derives a stable identity for a view from its storage
// location and dependency list. Two views that would occupy the same
// storage path and depend on the same upstreams, listed in the same
// order, are the same view; the same upstreams in a different order give
// a different ViewID.
func ComputeViewID(fullPath string, dependencies []ViewID) ViewID {
	return ViewID(canonicalDigest(digestInput{
		FullPath:     fullPath,
		Dependencies: dependencies,
	}))
}

// ComputeVersionDigest derives the version digest described in spec §6: a
// stable hash of a view's resource hashes concatenated with its
// transformation definition. A change in either forces CheckViewVersion
// to report a mismatch on the next round.
func ComputeVersionDigest(resourceHashes []string, t Transformation) string {
	return canonicalDigest(digestInput{
		ResourceHashes: append([]string(nil), resourceHashes...),
		TxKind:         t.Kind(),
		TxDetail:       transformationDetail(t),
	})
}
