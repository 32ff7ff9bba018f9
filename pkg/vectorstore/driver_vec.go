//go:build sqlite_vec && cgo

package vectorstore

import sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

// sqliteDriver stays the stock sqlite3 driver; Auto registers the
// sqlite-vec extension on every new connection so vector functions
// (vec_distance_cosine and friends) are available in SQL.
const sqliteDriver = "sqlite3"

// vecRanking pushes cosine ranking into SQLite: Query orders rows by
// vec_distance_cosine over the stored embedding blobs instead of
// scanning and ranking in Go.
const vecRanking = true

func init() {
	sqlite_vec.Auto()
}
