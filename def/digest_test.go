package def

import (
	"testing"

	. "github.com/warpfork/go-wish"
)

func TestComputeViewIDIsStableAndDiscriminating(t *testing.T) {
	a := ComputeViewID("/warehouse/a", []ViewID{"x", "y"})
	b := ComputeViewID("/warehouse/a", []ViewID{"x", "y"})
	Wish(t, a, ShouldEqual, b)

	c := ComputeViewID("/warehouse/a", []ViewID{"y", "x"})
	Wish(t, a == c, ShouldEqual, false)

	d := ComputeViewID("/warehouse/b", []ViewID{"x", "y"})
	Wish(t, a == d, ShouldEqual, false)
}

func TestComputeVersionDigestReflectsTransformation(t *testing.T) {
	hashes := []string{"h1", "h2"}
	a := ComputeVersionDigest(hashes, ComputeTransformation{Driver: "sql", Command: "select 1"})
	b := ComputeVersionDigest(hashes, ComputeTransformation{Driver: "sql", Command: "select 1"})
	Wish(t, a, ShouldEqual, b)

	c := ComputeVersionDigest(hashes, ComputeTransformation{Driver: "sql", Command: "select 2"})
	Wish(t, a == c, ShouldEqual, false)

	d := ComputeVersionDigest([]string{"h1", "h3"}, ComputeTransformation{Driver: "sql", Command: "select 1"})
	Wish(t, a == d, ShouldEqual, false)
}
