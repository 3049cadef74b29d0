// Package sso implements the identity provider gateway: browser single sign-on
// against Azure AD, Auth0, SAML 2.0 identity providers and the platform's own
// login page.
//
// # Flow
//
// Every login is a Flow moving through a fixed set of states:
//
//	idle -> authorization_requested -> callback_received -> token_exchanged -> provisioned
//
// Any non-terminal state may move to failed. A failed flow carries an
// opaque ErrorCode (callback_failed, invalid_config, access_denied or
// unknown) and scrubbed details, and the browser is redirected to the
// configured error page with both in the query string.
//
// # Provider Selection
//
// Tenants store provider configs in identity_provider_configs. The enabled
// config with the lowest priority value wins. A platform default, loaded
// from YAML with LoadDefaultProvider, applies only to tenants without any
// enabled config:
//
//	type: auth0
//	config:
//	  domain: login.example.com
//	  clientId: abc
//	  clientSecret: s3cret
//	userMapping:
//	  emailField: email
//
// # Usage Example
//
//	gateway := sso.NewGateway(tenants, sso.NewPostgresConfigStore(db), authService, sso.GatewayConfig{
//		BaseURL:         "https://auth.example.com",
//		ExchangeTimeout: 10 * time.Second,
//		Deps:            sso.Deps{LoginCodes: sessions},
//	})
//
//	handlers := sso.NewHandlers(gateway, sessions, authz, sso.HandlersConfig{ErrorURL: "/auth/error"})
//	handlers.RegisterRoutes(router)
//
// # Routes
//
//	GET      /api/auth/{provider}/{orgId}           start a login
//	GET|POST /api/auth/{provider}/{orgId}/callback  provider redirect target
//	GET      /api/v2/sso/providers                  list configs (sso.read)
//	POST     /api/v2/sso/providers/validate         check a config (sso.manage)
//
// A successful callback redirects to the return URL with the session access
// token in the token query parameter.
package sso
