package errors

// ProxyError is a specialized error type for frontend/backend pipelining
// failures. It embeds baseError and adds the token pair involved, which
// lets an operator correlate a dropped response with the client and
// upstream connection that owned it.
type ProxyError struct {
	*baseError
	frontendToken int // Token of the client session awaiting a response.
	backendToken  int // Token of the upstream connection involved, if any.
	endpoint      string
}

// NewProxyError creates a new proxy-specific error.
func NewProxyError(err error, code ErrorCode, msg string) *ProxyError {
	return &ProxyError{baseError: NewBaseError(err, code, msg)}
}

// WithFrontendToken records the client session token involved.
func (pe *ProxyError) WithFrontendToken(token int) *ProxyError {
	pe.frontendToken = token
	return pe
}

// WithBackendToken records the upstream connection token involved.
func (pe *ProxyError) WithBackendToken(token int) *ProxyError {
	pe.backendToken = token
	return pe
}

// WithEndpoint records the upstream endpoint address involved.
func (pe *ProxyError) WithEndpoint(endpoint string) *ProxyError {
	pe.endpoint = endpoint
	return pe
}

// FrontendToken returns the client session token involved.
func (pe *ProxyError) FrontendToken() int { return pe.frontendToken }

// BackendToken returns the upstream connection token involved.
func (pe *ProxyError) BackendToken() int { return pe.backendToken }

// Endpoint returns the upstream endpoint address involved.
func (pe *ProxyError) Endpoint() string { return pe.endpoint }
