package push

// Message is one push delivery. PersistentID is the provider-assigned
// identifier used for at-least-once dedup; Data is the vendor key/value
// payload.
type Message struct {
	PersistentID string
	Data         map[string]string
}

// Receiver is the blocking receive primitive for the push channel. Listen
// blocks, invoking the callback once per inbound message, until the
// connection fails or Close is called. Close is safe from another goroutine
// and makes a blocked Listen return nil.
type Receiver interface {
	Listen(onMessage func(Message)) error
	Close() error
}
