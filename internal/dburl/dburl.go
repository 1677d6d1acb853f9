// Package dburl parses the <protocol>://user[:pass]@host[:port]/database
// URLs that the Launcher accepts on its command line, generalizing the
// teacher's ad hoc --host/--port/--user/--password flags into the single URL
// form the helper binaries are forked with.
package dburl

import (
	"fmt"
	"net/url"
	"strconv"
)

// URL is a parsed database connection target.
type URL struct {
	Protocol string
	Username string
	Password string
	Host     string
	Port     int // 0 if not specified
	Database string
}

// Parse parses raw as <protocol>://[username[:password]@]host[:port]/database.
func Parse(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("dburl: %w", err)
	}
	if u.Scheme == "" {
		return URL{}, fmt.Errorf("dburl: missing protocol in %q", raw)
	}
	if u.Host == "" {
		return URL{}, fmt.Errorf("dburl: missing host in %q", raw)
	}
	out := URL{
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Database: trimLeadingSlash(u.Path),
	}
	if u.User != nil {
		out.Username = u.User.Username()
		out.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return URL{}, fmt.Errorf("dburl: invalid port %q in %q", p, raw)
		}
		out.Port = port
	}
	if out.Database == "" {
		return URL{}, fmt.Errorf("dburl: missing database in %q", raw)
	}
	return out, nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// Args renders the fields the helper binaries accept on argv, substituting
// "-" for any empty field so an empty password or username survives being
// flattened through an ssh argument list without losing its slot.
func (u URL) Args() []string {
	port := ""
	if u.Port != 0 {
		port = strconv.Itoa(u.Port)
	}
	return []string{
		placeholder(u.Username),
		placeholder(u.Password),
		placeholder(u.Host),
		placeholder(port),
		placeholder(u.Database),
	}
}

func placeholder(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
