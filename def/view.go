package def

/*
	ViewID identifies a view by content: a hash of its storage location and
	its dependencies' identities (see ComputeViewID).  View carries no
	schema fields, so no schema information feeds it.  Two View values that would behave identically are
	expected (not merely hoped) to produce the same ViewID, so the
	ViewManager can use it as a map key without a separate equality check.
*/
type ViewID string

/*
	StorageFormat tags how a view's materialized data is laid out on the
	underlying storage.  The scheduler does not interpret this value; it's
	carried through for logging, metrics labels, and so the ActionRunner
	can pick the right writer.
*/
type StorageFormat string

const (
	FormatOpaque  StorageFormat = "opaque"
	FormatParquet StorageFormat = "parquet"
	FormatCSV     StorageFormat = "csv"
)

/*
	View is an immutable descriptor of a logical table in the warehouse.

	In digest.go, ViewID is computed from FullPath and the dependencies'
	IDs, and VersionDigest from ResourceHashes and Transformation; Format
	feeds neither.
*/
type View struct {
	ID ViewID

	// Dependencies are full descriptors, not bare IDs: the view DSL
	// (out of scope here) is assumed to have already resolved the whole
	// graph before handing it to the scheduler. A Coordinator keeps
	// these descriptors and asks the ViewManager for a dependency's
	// Coordinator each time it needs one (see actors/coordinator), so it
	// never holds a *Coordinator pointer of its own; the descriptors are
	// also what let the ViewManager create that Coordinator lazily on
	// first reference.
	Dependencies []*View

	Transformation Transformation
	Format         StorageFormat
	FullPath       string
	ResourceHashes []string

	// VersionDigest is derived from ResourceHashes and Transformation; it
	// is stored here once computed so coordinators don't recompute it on
	// every round, but it is not itself part of what ViewID hashes over
	// (the digest is a property of a view, not an identity of one).
	VersionDigest string
}

/*
	NewView builds a View and computes its ViewID from fullPath and its
	dependencies' identities, rejecting descriptors that are malformed in
	a way no coordinator could ever recover from: an empty storage path, a
	dependency sharing that same path, or a dependency listed more than
	once. It returns an error of class ValidationError (via spacemonkeygo/errors) rather
	than panicking, since the view DSL this scheduler sits behind (out of
	scope here) is exactly the kind of caller that should get a typed
	error back instead of a crash.
*/
func NewView(fullPath string, dependencies []*View, t Transformation, format StorageFormat, resourceHashes []string) (*View, error) {
	if fullPath == "" {
		return nil, ValidationError.New("view has an empty fullPath")
	}

	seen := make(map[ViewID]struct{}, len(dependencies))
	for _, dep := range dependencies {
		if dep.FullPath == fullPath {
			return nil, ValidationError.New("view %q depends on %q, which shares its own fullPath", fullPath, dep.ID)
		}
		if _, dup := seen[dep.ID]; dup {
			return nil, ValidationError.New("view %q lists dependency %q more than once", fullPath, dep.ID)
		}
		seen[dep.ID] = struct{}{}
	}

	v := &View{
		Dependencies:   dependencies,
		Transformation: t,
		Format:         format,
		FullPath:       fullPath,
		ResourceHashes: resourceHashes,
	}
	v.ID = ComputeViewID(fullPath, v.DependencyIDs())
	for _, dep := range dependencies {
		if dep.ID == v.ID {
			return nil, ValidationError.New("view %q is its own dependency", fullPath)
		}
	}
	v.VersionDigest = ComputeVersionDigest(resourceHashes, t)
	return v, nil
}

// Clone returns a deep-enough copy: safe for a caller to mutate the
// dependency slice without aliasing the original.
func (v *View) Clone() *View {
	cp := *v
	cp.Dependencies = append([]*View(nil), v.Dependencies...)
	cp.ResourceHashes = append([]string(nil), v.ResourceHashes...)
	return &cp
}

// DependencyIDs returns just the identities of v's dependencies, in
// order; NewView hashes these into the ViewID.
func (v *View) DependencyIDs() []ViewID {
	ids := make([]ViewID, len(v.Dependencies))
	for i, d := range v.Dependencies {
		ids[i] = d.ID
	}
	return ids
}

// HasDependencies reports whether v's transformation may need to wait on
// upstream views before it can run.
func (v *View) HasDependencies() bool {
	return len(v.Dependencies) > 0
}
