package services

import "context"

// Request identity is placed in the context by the auth middleware; the
// core services only ever see an already-authorized caller.

func AccountIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value("userID").(int)
	return id, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value("userRole").(string)
	return role, ok
}
