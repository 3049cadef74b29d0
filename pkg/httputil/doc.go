// Package httputil provides HTTP helpers shared by the gatehouse handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, "authentication failed")
//	httputil.WriteDetailedError(w, http.StatusBadRequest, "provider misconfigured",
//		map[string]string{"missing": "clientSecret"})
//
// Internal errors never carry the cause to the client:
//
//	httputil.WriteInternalError(w)
//
// # Request Parsing
//
//	var req CheckPermissionRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
//	token := httputil.BearerToken(r)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
