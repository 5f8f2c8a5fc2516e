package chat

// Handler processes one decoded inbound message of type M.
type Handler[M any] func(c Conn, msg M)

// Router maps a discriminator (an IRC command, a JSON "type") to a handler. Unknown
// discriminators are ignored so a growing protocol never breaks the session.
type Router[M any] struct {
	handlers map[string]Handler[M]
}

// NewRouter returns an empty router.
func NewRouter[M any]() *Router[M] {
	return &Router[M]{handlers: make(map[string]Handler[M])}
}

// Handle registers fn for key, replacing any previous handler.
func (r *Router[M]) Handle(key string, fn Handler[M]) {
	r.handlers[key] = fn
}

// Dispatch runs the handler for key and reports whether one was registered.
func (r *Router[M]) Dispatch(c Conn, key string, msg M) bool {
	fn, ok := r.handlers[key]
	if !ok || fn == nil {
		return false
	}
	fn(c, msg)
	return true
}
