package rotation

import (
	"net"
	"strconv"
	"strings"
)

// Endpoint is one outbound network egress point.
type Endpoint struct {
	Host string
	Port int
}

// Server renders the endpoint as "host:port", the form used for ledger keys,
// exclusion matching, and proxy launch options.
func (e Endpoint) Server() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Credentials is the username/password pair shared by every endpoint in a
// credential group.
type Credentials struct {
	Username string
	Password string
}

// Group names one credential group and the URL its endpoint list is fetched
// from. The ordered group slice built at startup is immutable.
type Group struct {
	ID        string
	SourceURL string
}

// List is the parsed form of one group's endpoint-list document.
type List struct {
	Endpoints      []Endpoint
	Credentials    Credentials
	HasCredentials bool
}

// ParseEndpointList parses an endpoint-list document of "ip:port:user:pass"
// lines. Lines that do not split into exactly four colon-delimited fields, or
// whose port is not numeric, are skipped rather than failing the whole list.
// Credentials come from the first well-formed line.
func ParseEndpointList(data []byte) List {
	var list List
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 4 {
			continue
		}
		port, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		list.Endpoints = append(list.Endpoints, Endpoint{Host: fields[0], Port: port})
		if !list.HasCredentials {
			list.Credentials = Credentials{Username: fields[2], Password: fields[3]}
			list.HasCredentials = true
		}
	}
	return list
}

// ExclusionSet holds endpoints that must never be selected, keyed by bare
// host or by "host:port".
type ExclusionSet map[string]struct{}

// ParseExclusions splits a comma-separated configuration string into a set,
// trimming whitespace and dropping empty entries.
func ParseExclusions(raw string) ExclusionSet {
	set := make(ExclusionSet)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		set[entry] = struct{}{}
	}
	return set
}

// Excluded reports whether the endpoint matches the set, either on its exact
// "host:port" form or on its bare host.
func (s ExclusionSet) Excluded(e Endpoint) bool {
	if _, ok := s[e.Server()]; ok {
		return true
	}
	_, ok := s[e.Host]
	return ok
}
