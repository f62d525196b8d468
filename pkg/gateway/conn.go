package gateway

import "time"

// Conn tracks one client connection to the listener. It carries no SSH
// state; each request on it is still a separate invocation.
type Conn struct {
	ID         string
	RemoteAddr string
	StartedAt  time.Time
}
