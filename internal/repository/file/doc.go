// Package file implements the repository contract over a directory tree.
//
// Each entity is stored as one JSON document (optionally gzip-compressed)
// under a shard directory named by the leading characters of its id:
//
//	<base>/<shard>/<id>.json[.gz]
//	<base>/.indices/<index>.json
//
// Secondary indices map a key to the list of entity ids with that key. They
// are held in memory, mutated under a single mutex and committed by writing
// each changed index to a temporary file and renaming it into place. A failed
// commit reloads the indices from disk.
//
// The store is safe for concurrent use within one process. Multiple processes
// sharing a directory are not coordinated beyond the atomicity of rename.
// Search is a full scan.
package file
