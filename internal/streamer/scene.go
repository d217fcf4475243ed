package streamer

// Scene receives the results of streaming. It is implemented by the renderer
// and must be safe for concurrent use: Attach and Detach are called from the
// response loop, SetVisible from the tick loop.
type Scene interface {
	// Attach hands a freshly loaded payload to the scene.
	Attach(nodeID int, payload []byte)
	// Detach removes a disposed node.
	Detach(nodeID int)
	// SetVisible toggles presentation of a loaded node without unloading it.
	SetVisible(nodeID int, visible bool)
}

// NopScene discards everything.
type NopScene struct{}

func (NopScene) Attach(int, []byte)   {}
func (NopScene) Detach(int)           {}
func (NopScene) SetVisible(int, bool) {}
