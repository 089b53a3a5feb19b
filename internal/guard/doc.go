// Package guard assembles the authorization engine, rate limiter, audit
// log and API key manager into a single explicitly constructed Service.
//
//	svc, err := guard.New(ctx, cfg, guard.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	if svc.HasPermission(ctx, "u1", "t1", "schedules:create", nil) {
//	    // ...
//	}
package guard
