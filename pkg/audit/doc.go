// Package audit records security-relevant events as a write-only sink.
//
// Components emit events through the Logger interface and never depend on the
// outcome: a failing or saturated sink does not change an authentication or
// authorization decision.
//
//	sink := audit.NewAsyncLogger(
//		audit.NewMultiLogger(dbLogger, audit.NewStreamLogger(os.Stdout)),
//		audit.DefaultBufferSize, metrics.AuditEventsDroppedTotal, logger,
//	)
//	defer sink.Close()
//
//	sink.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthLogin, audit.EventStatusSuccess).
//		WithTenant(tenantID).WithUser(userID).WithRequest(r))
package audit
