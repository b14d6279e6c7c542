package api

// --- Data Structures for WebSocket Messages ---

// ControlMsg is one control command sent over the WebSocket, e.g.
// {"command": "forward"}.
type ControlMsg struct {
	Command string `json:"command"`
}

// ControlReply tells the client whether the loop took the command.
type ControlReply struct {
	Command  string `json:"command"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}
