//go:build !sqlite_vec

package vectorstore

// sqliteDriver selects the plain sqlite3 driver. Build with the
// sqlite_vec tag to register the sqlite-vec extension instead.
const sqliteDriver = "sqlite3"

// vecRanking reports whether cosine ranking runs inside SQLite. Without
// the extension Query scans the collection and ranks in Go.
const vecRanking = false
