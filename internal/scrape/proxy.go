package scrape

import (
	"fmt"
	"strings"
)

// Proxy is a parsed proxy credential. The wire shape is always
// "ip:port:user:pass".
type Proxy struct {
	Host string
	Port string
	User string
	Pass string
}

// ParseProxy splits a pool entry into its four parts.
func ParseProxy(raw string) (Proxy, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return Proxy{}, fmt.Errorf("parse proxy %q: want ip:port:user:pass", raw)
	}
	return Proxy{Host: parts[0], Port: parts[1], User: parts[2], Pass: parts[3]}, nil
}

// String returns the pool representation of the proxy.
func (p Proxy) String() string {
	return p.Host + ":" + p.Port + ":" + p.User + ":" + p.Pass
}

// URL renders the proxy as an authenticated http proxy URL.
func (p Proxy) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", p.User, p.Pass, p.Host, p.Port)
}
