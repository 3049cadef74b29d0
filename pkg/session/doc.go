// Package session issues and verifies HS256 session tokens.
//
// Every login mints an access token and a refresh token that share a session
// ID (sid). Tokens are stateless; logout writes the sid to a denylist until the
// refresh window closes, after which refresh is refused. Access tokens remain
// valid until their own expiry.
//
//	svc, err := session.NewService(session.Config{Secret: secret}, session.NewRedisRevocationStore(client))
//	pair, err := svc.Issue(ctx, session.Subject{UserID: 1, TenantID: 7, Roles: []string{"Admin"}})
//	claims, err := svc.Verify(ctx, pair.AccessToken, 7)
package session
