// Package edge implements the request-keyed edge tier that sits in front of
// the object cache. Entries are full response snapshots indexed by the whole
// inbound request URL, so a repeat of an identical request is answered
// without key derivation or a store round trip.
package edge
