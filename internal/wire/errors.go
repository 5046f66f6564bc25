package wire

import "errors"

// ErrTrailingData is returned by Decode when a datagram has bytes left
// over after its packet body (by tag) was fully consumed.
var ErrTrailingData = errors.New("wire: trailing data after packet body")
