package util

import (
	"net"
	"strings"
)

// IsLoopbackHost reports whether a URL host (without port) names the local machine.
// RFC 8252 native clients register plain http redirects on these hosts.
func IsLoopbackHost(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
