package proxy

import (
	"github.com/iamNilotpal/pelikan/internal/poll"
)

// backendWorkItem is one frontend-parsed request forwarded to a
// BackendWorker, tagged with which frontend worker (and which of its
// sessions) it must be routed back to (spec §4.10.1: the
// frontend->backend queue carries "(BackendRequest, frontend_token)").
type backendWorkItem[Req any] struct {
	req         Req
	frontendID  int
	frontendTok poll.Token
}

// pendingEntry is what a BackendWorker's pending map (backend_token ->
// frontend_token of spec §4.10.1) records for one in-flight upstream
// request, extended with frontendID since a BackendWorker may be
// shared by more than one FrontendWorker.
type pendingEntry struct {
	frontendID  int
	frontendTok poll.Token
}

// frontendResult is one upstream response routed back to the
// FrontendWorker that originated it. The original frontend-side request
// is not carried here: the FrontendWorker already holds it (keyed by
// frontendTok) from the moment it dispatched, so re-sending it over the
// queue would be redundant.
type frontendResult[Resp any] struct {
	resp        Resp
	frontendTok poll.Token
	// err is set instead of resp when the backend failed before a
	// response arrived (spec §4.10.3: connection loss surfaces as a
	// protocol-appropriate error to the client).
	err error
}
