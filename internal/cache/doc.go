// Package cache defines the durable object cache that sits behind the proxy.
// Objects are addressed by the bounded keys produced by package cachekey and
// carry the HTTP metadata needed to replay a response (content type,
// disposition, encoding, language) plus operator-facing custom metadata.
// Three backends share one Store contract with whole-object put semantics:
// a filesystem layout (temp file + rename), LevelDB (single batch) and SQLite
// (single row upsert). The Writer runs persistence outside the request
// lifecycle so clients never wait on a store write.
package cache
