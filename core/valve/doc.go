// Package valve defines the internal request and response handed to an
// application's valve chain and the Valve contract itself.
//
// A valve inspects or fills the response and may end the chain by calling
// Response.Dispatch. Returning an error aborts the chain; the worker running
// the chain renders it as a 500 response.
//
//	hello := valve.Func(func(req *valve.Request, resp *valve.Response) error {
//		resp.Header.Set("Content-Type", "text/plain")
//		_, _ = resp.WriteString("hello from " + req.App)
//		resp.Dispatch()
//		return nil
//	})
//
//	chain := []valve.Valve{valve.Session(sessions), hello}
package valve
