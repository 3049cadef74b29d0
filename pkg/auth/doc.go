// Package auth authenticates tenant users.
//
// Local users log in with an email and a bcrypt password hash. SSO users are
// provisioned on first login by Service.Provision and never carry a password.
// Successful logins mint a session token pair through a TokenIssuer, with the
// user's role names embedded as claims.
//
//	svc := auth.NewService(auth.NewPostgresUserStore(db), sessions, rbacStore, auditLogger)
//	result, err := svc.Login(ctx, tenantID, "alice@acme.test", password)
//	switch {
//	case errors.Is(err, auth.ErrInvalidCredentials):
//		// unknown email, SSO-only account or wrong password
//	case errors.Is(err, auth.ErrUserSuspended):
//	}
//
// POST /auth/login is served by Handlers and expects the tenant to have been
// resolved from an auth API key by tenant.Middleware.
package auth
