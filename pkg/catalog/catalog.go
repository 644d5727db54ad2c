// Package catalog fetches the active-node roster and the participant
// directory from the upstream NLNOG Ring catalog and normalizes them into
// the exporter's internal Node record.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fmcglinn/ring-exporter/pkg/geo"
	"github.com/fmcglinn/ring-exporter/pkg/types"
)

// Client fetches and normalizes catalog data over plain HTTP GETs with a
// bounded per-request timeout.
type Client struct {
	NodesURL        string
	ParticipantsURL string
	Timeout         time.Duration

	httpClient *http.Client
}

// New returns a Client configured to hit nodesURL/participantsURL with the
// given per-request timeout.
func New(nodesURL, participantsURL string, timeout time.Duration) *Client {
	return &Client{
		NodesURL:        nodesURL,
		ParticipantsURL: participantsURL,
		Timeout:         timeout,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

type rawNode struct {
	Hostname    string `json:"hostname"`
	ASN         int    `json:"asn"`
	City        string `json:"city"`
	CountryCode string `json:"countrycode"`
	AliveIPv4   bool   `json:"alive_ipv4"`
	AliveIPv6   bool   `json:"alive_ipv6"`
	Participant int    `json:"participant"`
}

type nodesResponse struct {
	Results struct {
		Nodes []rawNode `json:"nodes"`
	} `json:"results"`
}

type rawParticipant struct {
	ID      int    `json:"id"`
	Company string `json:"company"`
}

type participantsResponse struct {
	Results struct {
		Participants []rawParticipant `json:"participants"`
	} `json:"results"`
}

// FetchParticipants retrieves the participant directory and returns it as
// an id -> company map. Any failure returns a nil map and an error; callers
// that want to tolerate this failure should treat a non-nil error as "no
// participant data" and fall back to an empty map.
func (c *Client) FetchParticipants(ctx context.Context) (map[int]string, error) {
	var resp participantsResponse
	if err := c.getJSON(ctx, c.ParticipantsURL, &resp); err != nil {
		return nil, fmt.Errorf("fetch participants: %w", err)
	}

	out := make(map[int]string, len(resp.Results.Participants))
	for _, p := range resp.Results.Participants {
		out[p.ID] = p.Company
	}
	return out, nil
}

// FetchNodes retrieves the raw active-node list from the catalog.
func (c *Client) FetchNodes(ctx context.Context) ([]rawNode, error) {
	var resp nodesResponse
	if err := c.getJSON(ctx, c.NodesURL, &resp); err != nil {
		return nil, fmt.Errorf("fetch nodes: %w", err)
	}
	return resp.Results.Nodes, nil
}

// Normalize converts raw catalog records into internal Node records,
// dropping any record that is not dual-stack alive, uppercasing the
// country code, deriving the continent, and resolving the company name
// ("Unknown" if the participant id has no match).
func Normalize(raw []rawNode, participants map[int]string) []types.Node {
	out := make([]types.Node, 0, len(raw))
	for _, n := range raw {
		if !n.AliveIPv4 || !n.AliveIPv6 {
			continue
		}
		cc := strings.ToUpper(n.CountryCode)
		company, ok := participants[n.Participant]
		if !ok || company == "" {
			company = "Unknown"
		}
		out = append(out, types.Node{
			Hostname:    n.Hostname,
			ASN:         strconv.Itoa(n.ASN),
			City:        n.City,
			CountryCode: cc,
			Continent:   geo.Continent(cc),
			Company:     company,
		})
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
