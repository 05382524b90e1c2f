// Package embedcache stores per-frame feature vectors keyed by the content
// hash of the media they were extracted from.
//
// Keys follow a stable, documented scheme so external tooling can enumerate
// and parse them without touching the cache internals:
//
//	embed:<content_hash>:<frame_number>
//	embed:<content_hash>:batch:<start>:<end>
//	analysis:<id>
//	result:<id>
//	session:<id>
//
// Every key carries a class-specific TTL. Expired records read as missing and
// are reaped by a background sweep. Capacity is bounded with LRU eviction.
package embedcache
