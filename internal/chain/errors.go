package chain

import "errors"

// ErrChainIDMismatch is returned when the node reports an unexpected chain id.
var ErrChainIDMismatch = errors.New("chain: chain id mismatch")
