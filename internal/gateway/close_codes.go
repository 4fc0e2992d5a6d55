package gateway

// Application-level close codes sent when a connection is rejected
// before acceptance, or torn down after an unexpected failure. Clients
// distinguish rejection causes only by these codes; no error payload is
// sent.
const (
	CloseUnauthenticated = 4001 // no valid identity on the connection
	CloseSelfChat        = 4002 // identity equals target identity
	CloseForbidden       = 4003 // policy denied this pair
	CloseInternalError   = 4011 // unexpected server failure
)
