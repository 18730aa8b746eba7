package webhook

// Route binds an HTTP method and path to a workflow start. The token, when
// set, must be presented either as a Bearer token or in X-Webhook-Token; the
// secret, when set, additionally requires an HMAC signature over the raw body
// in X-Webhook-Signature.
type Route struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	WorkflowID string `json:"workflow_id"`
	Token      string `json:"token,omitempty"`
	Secret     string `json:"secret,omitempty"`
}

// StartResponse is the body returned when a route accepts a request.
type StartResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}
