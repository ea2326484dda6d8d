// Package probe gathers raw discovery data from the host and the network.
//
// Every probe takes a context and reports failures through ErrUnavailable
// (tool or data source missing or failing) or ErrTimeout (the context
// deadline passed). Callers degrade the affected datum to "unknown" and
// carry on.
//
// Linux data sources are read from /proc/net first, with the matching
// command line tool (ip, arp, traceroute) as a fallback.
package probe
