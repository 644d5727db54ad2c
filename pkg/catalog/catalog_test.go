package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchAndNormalize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{
				"nodes": []map[string]interface{}{
					{"hostname": "a.example.net", "asn": 65000, "city": "Amsterdam", "countrycode": "nl", "alive_ipv4": true, "alive_ipv6": true, "participant": 1},
					{"hostname": "b.example.net", "asn": 65001, "city": "Berlin", "countrycode": "de", "alive_ipv4": true, "alive_ipv6": false, "participant": 2},
					{"hostname": "c.example.net", "asn": 65002, "city": "Oslo", "countrycode": "no", "alive_ipv4": true, "alive_ipv6": true, "participant": 99},
				},
			},
		})
	})
	mux.HandleFunc("/participants", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{
				"participants": []map[string]interface{}{
					{"id": 1, "company": "Example Co"},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := New(srv.URL+"/nodes", srv.URL+"/participants", 2*time.Second)

	participants, err := client.FetchParticipants(context.Background())
	if err != nil {
		t.Fatalf("FetchParticipants() error = %v", err)
	}

	raw, err := client.FetchNodes(context.Background())
	if err != nil {
		t.Fatalf("FetchNodes() error = %v", err)
	}

	nodes := Normalize(raw, participants)
	if len(nodes) != 2 {
		t.Fatalf("Normalize() returned %d nodes (b.example.net should be dropped), got %+v", len(nodes), nodes)
	}

	if nodes[0].CountryCode != "NL" || nodes[0].Continent != "Europe" || nodes[0].Company != "Example Co" {
		t.Errorf("node 0 = %+v", nodes[0])
	}
	if nodes[1].Company != "Unknown" {
		t.Errorf("node 1 company = %q, want Unknown", nodes[1].Company)
	}
}

func TestFetchNodesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, srv.URL, time.Second)
	if _, err := client.FetchNodes(context.Background()); err == nil {
		t.Error("FetchNodes() error = nil, want error on 500")
	}
}
