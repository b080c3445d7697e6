package portalsdk

import (
	"context"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

// RequestDeduplicator collapses identical in-flight requests into one
// execution. Identity is the hash of method, endpoint and body; once a call
// settles the entry is gone, so a later identical request executes again.
// There is no result caching.
//
// The zero value is ready to use.
type RequestDeduplicator struct {
	group singleflight.Group
}

// Do executes fn, sharing the result with any concurrent Do carrying the
// same method, endpoint and body. shared reports whether the result was
// produced by another caller's execution.
func (d *RequestDeduplicator) Do(
	ctx context.Context,
	method, endpoint string,
	body []byte,
	fn func(ctx context.Context) (any, error),
) (v any, shared bool, err error) {
	key := requestKey(method, endpoint, body)

	v, err, shared = d.group.Do(key, func() (any, error) {
		return fn(ctx)
	})
	return v, shared, err
}

// requestKey hashes the request identity. blake2b keeps arbitrarily large
// bodies from becoming arbitrarily large map keys.
func requestKey(method, endpoint string, body []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
