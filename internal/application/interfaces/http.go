package interfaces

import "net/http"

// HTTPHandler is the inbound HTTP surface of the service.
type HTTPHandler interface {
	http.Handler
}
