// Package store implements the Store Facade (§4.9): the public entry
// point that routes every operation through the write buffer, metadata
// catalog or native-metadata backend, tag index, transaction manager,
// and replication layer, depending on the backend's published
// capabilities. It is grounded on the teacher's top-level lib/db engine
// constructors (lib/db/engines/maple.New, lib/store/lstore.New), which
// play the same role of wiring leaf components behind one handle.
package store
