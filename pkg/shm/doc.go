// Package shm carries a spawn request from the daemon to a re-executed child.
//
// The payload is CBOR encoded with core deterministic encoding and framed by
// a fixed header:
//
//	magic   u32  "ASPW"
//	version u32
//	length  u32  payload length
//	sum     [32] blake3-256 of the payload
//	payload
//
// The same frame is used for the cold start region, a regular file under the
// message directory rounded up to whole pages, and for the warm path where it
// travels in a sealed memfd. The region is written once by the daemon, read
// once by the child and removed by the daemon when the spawn resolves.
package shm
