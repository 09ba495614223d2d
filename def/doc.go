/*
	Package def describes the warehouse's view graph: views, their
	transformations, and the identifiers derived from them.

	Nothing in this package talks to storage, a scheduler, or a metastore;
	it's the vocabulary the rest of the module shares.
*/
package def
