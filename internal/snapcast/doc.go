// Package snapcast is a typed client for the Snapcast server control API.
//
// It sits on top of the generic jsonrpc package: Service turns method calls
// into JSON-RPC requests and decodes their results, and DecodeNotification
// turns server notifications into typed events.
//
//	svc := snapcast.NewService(rpcClient)
//	status, err := svc.GetStatus(ctx)
//	_, err = svc.SetClientVolume(ctx, "livingroom", 40)
//
//	rpcClient.OnNotification(snapcast.NotificationHandler(
//	    func(ev snapcast.Event) { ... },
//	    func(method string, err error) { logger.Warn("bad notification", "method", method, "error", err) },
//	))
package snapcast
