package valve

// Valve is one stage of an application's request chain. A valve ends the
// chain by dispatching the response. A returned error aborts the chain and
// is rendered as an internal server error.
type Valve interface {
	Invoke(req *Request, resp *Response) error
}

// Func adapts a plain function to Valve.
type Func func(req *Request, resp *Response) error

// Invoke calls f.
func (f Func) Invoke(req *Request, resp *Response) error {
	return f(req, resp)
}

// Run walks chain in order until a valve dispatches the response or fails.
func Run(chain []Valve, req *Request, resp *Response) error {
	for _, v := range chain {
		if resp.Dispatched() {
			return nil
		}
		if v == nil {
			continue
		}
		if err := v.Invoke(req, resp); err != nil {
			return err
		}
	}
	return nil
}
