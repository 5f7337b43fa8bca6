package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ipSet is a list of networks; single addresses are stored as host routes.
type ipSet []*net.IPNet

// parseIPSet accepts IPs and CIDRs. Entries it cannot parse are returned
// separately so callers can decide how loudly to complain.
func parseIPSet(entries []string) (ipSet, []string) {
	var set ipSet
	var invalid []string
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				invalid = append(invalid, entry)
				continue
			}
			bits := 8 * net.IPv6len
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 8*net.IPv4len
			}
			set = append(set, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			invalid = append(invalid, entry)
			continue
		}
		set = append(set, ipNet)
	}
	return set, invalid
}

func (s ipSet) contains(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range s {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// never read here; TrustedProxies rewrites RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// TrustedProxies rewrites r.RemoteAddr from X-Forwarded-For or X-Real-IP, but
// only when the connecting peer is one of the given proxies. With no proxies
// configured the headers are ignored and RemoteAddr is left alone.
func TrustedProxies(proxies []string) func(http.Handler) http.Handler {
	trusted, _ := parseIPSet(proxies)
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trusted.contains(ClientIP(r)) {
				if ip := forwardedFor(r, trusted); ip != "" {
					r.RemoteAddr = ip
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedFor walks X-Forwarded-For from the right and returns the first hop
// that is not itself a trusted proxy. Hops to the left of that one were
// written by the client and are ignored.
func forwardedFor(r *http.Request, trusted ipSet) string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	var leftmost string
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			break
		}
		if !trusted.contains(hop) {
			return hop
		}
		leftmost = hop
	}
	if leftmost != "" {
		return leftmost
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}
