// Package store implements a schema-driven entity store over an
// embedded transactional key-value store, with composite secondary
// indexes kept consistent under every mutation.
//
// A [Schema] declares typed fields and composite-key definitions. Bound
// to a store file it yields the uniform operation set: insert, get,
// update, delete, filter, paginate, plus index rebuild and verification.
//
// # Consistency
//
// Every mutation writes the record and all affected index entries inside
// one transaction. At every committed state, for every definition, each
// live record is a member of exactly the entry its current field values
// produce; no stale membership survives an update or delete. Readers
// run against a fixed snapshot and never observe a half-applied
// mutation.
//
// # Usage
//
//	schema := &store.Schema{
//	    Name: "application",
//	    Fields: []store.Field{
//	        {Name: "client", Kind: store.KindString, Required: true},
//	        {Name: "county", Kind: store.KindString, Required: true},
//	        {Name: "status", Kind: store.KindString, Required: true},
//	    },
//	    Composites: []store.Composite{
//	        {Name: "by_client", Fields: []string{"client", "county", "status"}},
//	    },
//	}
//
//	s, err := store.Open(store.Config{Path: "app.db"}, schema)
//	...
//	id, err := s.Insert(store.Record{"client": "Acme", "county": "NY", "status": "Active"})
//	recs, err := s.FilterByComposite("by_client", store.Record{"client": "Acme", "county": "NY"}, store.Page{})
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ValidationError] - missing or malformed field, rejected before any transaction
//   - [ErrNotFound] - no record for the identifier
//   - [ErrUnknownComposite] - definition name not declared by the schema
//   - [ErrIndexInconsistent] - verification found divergence; rebuild to resolve
//
// Conflict errors (store size or collection count exhausted) surface
// from the kv package and are never retried automatically.
//
// # Sharding
//
// A [Router] runs N independent stores, routing inserts by a configured
// shard field and fanning queries out with a client-side merge. Shards
// share no transaction.
package store
