package isim

import "errors"

// ErrInvalidSelection marks a picker code that does not exist under the
// previously chosen level.
var ErrInvalidSelection = errors.New("invalid room selection")

// ErrRoomNotBound marks a billing query for a principal without a binding.
var ErrRoomNotBound = errors.New("room not bound")
