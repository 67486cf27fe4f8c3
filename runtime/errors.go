package runtime

import "errors"

// ErrNotFound is returned by Inspect when the container id is unknown to
// the daemon, translating the SDK's errdefs.IsNotFound check into a
// sentinel callers can compare with errors.Is.
var ErrNotFound = errors.New("container not found")
