package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"visualinternet/internal/domain"
)

// Reputation labels for addresses without an owner lookup
const (
	LabelPrivate = "private network"
	LabelUnknown = domain.Unknown
)

// DefaultReputationTTL is how long a resolved owner label is reused
const DefaultReputationTTL = time.Hour

// Reputation resolves an address to the network that announces it.
// Resolved labels are kept for TTL; failures are retried on the next call.
type Reputation struct {
	// URL is a format string with one %s for the address
	URL    string
	Client *http.Client
	TTL    time.Duration

	mu     sync.Mutex
	labels map[string]ownerLabel
	group  singleflight.Group
	now    func() time.Time
}

type ownerLabel struct {
	label string
	at    time.Time
}

// NewReputation creates a reputation lookup against a BGPView-style API
func NewReputation(urlTemplate string, timeout, ttl time.Duration) *Reputation {
	if urlTemplate == "" {
		urlTemplate = "https://api.bgpview.io/ip/%s"
	}
	if ttl <= 0 {
		ttl = DefaultReputationTTL
	}
	return &Reputation{
		URL:    urlTemplate,
		Client: &http.Client{Timeout: timeout},
		TTL:    ttl,
		labels: make(map[string]ownerLabel),
		now:    time.Now,
	}
}

// Label returns "AS<n> (<name>)" for public addresses, LabelPrivate for
// locally-routable ones and LabelUnknown when the lookup fails.
func (r *Reputation) Label(ctx context.Context, addr string) string {
	if domain.IsLocallyRoutable(addr) {
		return LabelPrivate
	}
	if label, ok := r.cached(addr); ok {
		return label
	}

	v, _, _ := r.group.Do(addr, func() (interface{}, error) {
		label, err := r.lookup(ctx, addr)
		if err != nil {
			log.Printf("Probe: reputation lookup for %s failed: %v", addr, err)
			return LabelUnknown, nil
		}
		r.mu.Lock()
		if r.labels == nil {
			r.labels = make(map[string]ownerLabel)
		}
		r.labels[addr] = ownerLabel{label: label, at: r.clock()}
		r.mu.Unlock()
		return label, nil
	})
	return v.(string)
}

func (r *Reputation) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Reputation) cached(addr string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.labels[addr]
	if !ok {
		return "", false
	}
	if r.TTL > 0 && r.clock().Sub(e.at) >= r.TTL {
		delete(r.labels, addr)
		return "", false
	}
	return e.label, true
}

// bgpviewResponse covers the fields used from /ip/{addr}
type bgpviewResponse struct {
	Status string `json:"status"`
	Data   struct {
		Prefixes []struct {
			ASN struct {
				ASN         int    `json:"asn"`
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"asn"`
		} `json:"prefixes"`
		RIRAllocation struct {
			RIRName string `json:"rir_name"`
		} `json:"rir_allocation"`
	} `json:"data"`
}

func (r *Reputation) lookup(ctx context.Context, addr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.URL, addr), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", wrapContext(ctx, "reputation", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: reputation status %d", ErrUnavailable, resp.StatusCode)
	}

	var body bgpviewResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode reputation: %v", ErrUnavailable, err)
	}
	if len(body.Data.Prefixes) == 0 {
		return "", fmt.Errorf("%w: no announcing prefix for %s", ErrUnavailable, addr)
	}

	asn := body.Data.Prefixes[0].ASN
	name := strings.TrimSpace(asn.Name)
	if name == "" {
		name = strings.TrimSpace(asn.Description)
	}
	if name == "" {
		return fmt.Sprintf("AS%d", asn.ASN), nil
	}
	return fmt.Sprintf("AS%d (%s)", asn.ASN, name), nil
}
