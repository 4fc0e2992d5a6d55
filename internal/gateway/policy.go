package gateway

import "context"

// PairPolicy decides whether two identities may chat. It runs after
// authentication and after the counterpart has been resolved to a real
// account; returning an error rejects the connection with the forbidden
// close code.
type PairPolicy func(ctx context.Context, identity, peer string) error

// PermitAll is the default policy: any two distinct, real accounts may
// chat.
func PermitAll(context.Context, string, string) error {
	return nil
}
