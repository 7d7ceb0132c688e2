// Package access implements the credential gate in front of the cache. A
// request presents a single key; the gate maps it to a Scope using two
// allow-lists loaded from config at startup. Read keys may fetch cached
// objects, write keys may additionally populate the cache from the origin.
package access
