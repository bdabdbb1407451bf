package model

// PushPayload is what the push gateway delivers to a user's devices.
type PushPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Badge int            `json:"badge"`
	Data  map[string]any `json:"data,omitempty"`
}
