package webscan

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// ProbeResult reports website reachability.
type ProbeResult struct {
	Resolves  bool
	Reachable bool
	Status    int
}

// Prober checks that a website's host resolves and, optionally, that the
// site answers HTTP. Direct checks, not routed through the scraping API.
type Prober struct {
	resolver interface {
		LookupHost(ctx context.Context, host string) ([]string, error)
	}
	http *http.Client
}

// NewProber creates a prober with a short timeout suited to validation runs.
func NewProber() *Prober {
	return &Prober{
		resolver: net.DefaultResolver,
		http: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return eris.New("webscan: too many redirects")
				}
				return nil
			},
		},
	}
}

// Probe resolves the host and, when deep is set, issues a HEAD request.
// A host that does not resolve returns Resolves=false and a nil error;
// network failures during lookup return an error so callers can treat the
// check as inconclusive.
func (p *Prober) Probe(ctx context.Context, rawURL string, deep bool) (ProbeResult, error) {
	host := hostOf(rawURL)
	if host == "" {
		return ProbeResult{}, nil
	}

	addrs, err := p.resolver.LookupHost(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if eris.As(err, &dnsErr) && dnsErr.IsNotFound {
			return ProbeResult{Resolves: false}, nil
		}
		return ProbeResult{}, eris.Wrap(err, "webscan: dns lookup")
	}
	res := ProbeResult{Resolves: len(addrs) > 0}
	if !deep || !res.Resolves {
		return res, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return res, nil
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return res, eris.Wrap(err, "webscan: http probe")
	}
	defer resp.Body.Close() //nolint:errcheck

	res.Status = resp.StatusCode
	res.Reachable = resp.StatusCode < 500
	return res, nil
}

func hostOf(rawURL string) string {
	u := rawURL
	for _, prefix := range []string{"https://", "http://"} {
		if len(u) > len(prefix) && u[:len(prefix)] == prefix {
			u = u[len(prefix):]
			break
		}
	}
	for i := 0; i < len(u); i++ {
		if u[i] == '/' || u[i] == ':' || u[i] == '?' {
			return u[:i]
		}
	}
	return u
}
