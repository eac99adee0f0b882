package access

import "context"

// Auth types. A request is a guest until a valid bearer token resolves to
// a record; admins are users of the _admins entity.
const (
	TypeGuest = "guest"
	TypeUser  = "user"
	TypeAdmin = "admin"
)

// AdminTable is the distinguished auth entity for operators.
const AdminTable = "_admins"

// Auth is the authentication state of one request.
type Auth struct {
	Type  string
	Token string
	ID    string
	Table string
	// Record is the hydrated user row with the password removed.
	Record map[string]interface{}
}

// IsAdmin reports whether the request is authenticated against _admins.
func (a *Auth) IsAdmin() bool {
	return a != nil && a.Table == AdminTable
}

// Guest returns the unauthenticated auth state.
func Guest() *Auth {
	return &Auth{Type: TypeGuest}
}

// RuleEnv projects the auth state into the variable map handed to the
// rule engine.
func (a *Auth) RuleEnv() map[string]interface{} {
	if a == nil {
		return map[string]interface{}{"type": TypeGuest}
	}
	env := map[string]interface{}{
		"type":  a.Type,
		"id":    a.ID,
		"table": a.Table,
	}
	for k, v := range a.Record {
		if _, taken := env[k]; !taken {
			env[k] = v
		}
	}
	return env
}

type contextKeyAuthType struct{}

var contextKeyAuth = &contextKeyAuthType{}

// ContextWithAuth returns a context carrying the auth state.
func ContextWithAuth(ctx context.Context, auth *Auth) context.Context {
	return context.WithValue(ctx, contextKeyAuth, auth)
}

// AuthFromContext returns the auth state of the request, or the guest
// state when none was stored.
func AuthFromContext(ctx context.Context) *Auth {
	auth, ok := ctx.Value(contextKeyAuth).(*Auth)
	if !ok || auth == nil {
		return Guest()
	}
	return auth
}
