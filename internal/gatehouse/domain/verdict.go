package domain

import "github.com/confreg/gatehouse/pkg/tokenx"

// Verdict is what the middleware pipeline hands to downstream CRUD handlers.
// Identity is nil when the request carried no valid token; handlers that
// require authentication turn that into a 401 themselves.
type Verdict struct {
	Allowed  bool
	Identity *tokenx.Identity
}
