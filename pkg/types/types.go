// Package types holds the data model shared across the exporter: the Node
// record produced by the catalog client and the probe result shape produced
// by the probe executor.
package types

import "strings"

// Node is an immutable record describing one NLNOG Ring measurement node.
// It is never mutated after construction; the roster is replaced wholesale
// by rewriting the slice, never by editing an element in place.
type Node struct {
	Hostname    string
	ASN         string
	City        string
	CountryCode string
	Continent   string
	Company     string
}

// ShortHost returns the substring of Hostname before the first '.', the
// value used for the derived "node" filter field and in display output.
func (n Node) ShortHost() string {
	if idx := strings.IndexByte(n.Hostname, '.'); idx >= 0 {
		return n.Hostname[:idx]
	}
	return n.Hostname
}

// FilterField returns the case-sensitive value of one of the six filter
// fields named in spec.md §4.2: asn, city, countrycode, continent, company,
// and the derived "node" (short hostname).
func (n Node) FilterField(field string) string {
	switch field {
	case "node":
		return n.ShortHost()
	case "asn":
		return n.ASN
	case "city":
		return n.City
	case "countrycode":
		return n.CountryCode
	case "continent":
		return n.Continent
	case "company":
		return n.Company
	default:
		return ""
	}
}

// FilterFields lists every valid filter/query field name. /api/filter-options
// returns them as JSON object keys, so clients see them in sorted key order.
var FilterFields = []string{"node", "asn", "city", "countrycode", "continent", "company"}

// ProbeStatus enumerates the outcome classification of a single probe.
type ProbeStatus string

const (
	ProbeOK         ProbeStatus = "ok"
	ProbeNoRTT      ProbeStatus = "no_rtt"
	ProbePingError  ProbeStatus = "ping_error"
	ProbeSSHTimeout ProbeStatus = "ssh_timeout"
	ProbeException  ProbeStatus = "exception"
)

// ProbeResult is the outcome of running the probe executor against a single
// node for a single target.
type ProbeResult struct {
	Hostname string
	Status   ProbeStatus
	Min      float64
	Avg      float64
	Max      float64
	Mdev     float64
}

// LastProbeStatus is the diagnostics-only snapshot kept per node (keyed by
// short host name), recording the node's last probe regardless of whether the
// probe succeeded. The /debug endpoint does not display it.
type LastProbeStatus struct {
	Status      ProbeStatus
	City        string
	CountryCode string
	ASN         string
	Continent   string
	Company     string
}
