// Package docstore implements the path-addressable document collaborator the
// gateway consumes: read/write/delete by slash path plus immediate-children
// listing. The offline core only uses it for the persisted cache manifest and
// the lifecycle event journal; the record-keeping CRUD layer that would store
// companies, users, cycles, daily entries and expenses here lives outside
// this repository. Values are opaque JSON documents, persisted in a local
// goleveldb database.
package docstore
