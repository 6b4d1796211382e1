package main

import (
	"net"
	"strings"
)

// httpURLFromAddr converts a listen address into a URL a local client
// can dial. Wildcard hosts map to localhost.
//
//	:8080            -> http://localhost:8080
//	0.0.0.0:8080     -> http://localhost:8080
//	127.0.0.1:8080   -> http://127.0.0.1:8080
//	[::1]:8080       -> http://[::1]:8080
func httpURLFromAddr(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "http://localhost"
	}
	if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
		return strings.TrimRight(a, "/")
	}

	host, port, err := net.SplitHostPort(a)
	if err != nil {
		return "http://" + a
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
