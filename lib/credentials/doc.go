// Package credentials persists the authentication material of each session.
//
// Every session code owns exactly one entry. The material is opaque: the
// transport produces it on a credential upgrade and consumes it when a session
// is restored. Two backends implement Store:
//
//	DirStore     one directory per code: creds.bin plus a meta.yaml sidecar
//	SQLiteStore  a single SQLite database with one row per code
//
// Both can seal the material at rest with a Sealer (XChaCha20-Poly1305, key
// derived from a passphrase with Argon2id).
//
// Files are written with 0600 permissions and directories with 0700.
package credentials
