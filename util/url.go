package util

import "strings"

const (
	httpsPrefix = "https://"

	// hostnames are at most 253 characters
	hostnameMaxLen = 254
)

// name resolving proxies, matched case-insensitively as prefixes
var proxyTypes = []string{"http:", "https:", "socks4a:", "socks5h:"}

// HostnameFromURL extracts the host of an https resolver url for bootstrap
// polling. The host runs up to the first '/', and must end with a letter:
// anything else is taken for a literal address, so "host1.example" and
// "dns.example:443" are rejected as well.
func HostnameFromURL(raw string) (string, bool) {
	if !strings.HasPrefix(raw, httpsPrefix) {
		return "", false
	}

	host := raw[len(httpsPrefix):]
	if end := strings.IndexByte(host, '/'); end >= 0 {
		host = host[:end]
	}

	if len(host) == 0 || len(host) >= hostnameMaxLen {
		return "", false
	}

	if !isAlpha(host[len(host)-1]) {
		return "", false
	}

	return host, true
}

// ProxyResolvesNames reports whether the outbound proxy resolves hostnames
// itself, in which case local bootstrapping is pointless.
func ProxyResolvesNames(proxy string) bool {
	if len(proxy) == 0 {
		return false
	}

	for _, p := range proxyTypes {
		if len(proxy) >= len(p) && strings.EqualFold(proxy[:len(p)], p) {
			return true
		}
	}

	return false
}

// PollingHostname decides once at startup whether the resolver hostname has
// to be bootstrapped, and returns it when so.
func PollingHostname(resolverURL, proxy string) (string, bool) {
	if ProxyResolvesNames(proxy) {
		return "", false
	}
	return HostnameFromURL(resolverURL)
}

func isAlpha(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
