package imageeditor

import "github.com/pixfold/image-editor/core"

// Inner exposes the underlying core.Editor for advanced use (e.g., direct
// registry access in tests).  Prefer the high-level API for normal usage.
func (e *Editor) Inner() *core.Editor { return e.inner }
