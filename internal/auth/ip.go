package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/logging"
)

const loopbackIP = "127.0.0.1"

// IPResolver turns a private or unknown client address into the public
// address recorded on the session.
type IPResolver interface {
	Resolve(ctx context.Context, remoteIP string) string
}

// resolveIP maps loopback to 127.0.0.1, keeps public addresses as they are
// and asks the resolver for everything else.
func (s *Service) resolveIP(ctx context.Context, remoteIP string) string {
	ip := net.ParseIP(remoteIP)
	switch {
	case ip != nil && ip.IsLoopback():
		return loopbackIP
	case ip != nil && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified():
		return ip.String()
	case s.ip == nil:
		return remoteIP
	default:
		return s.ip.Resolve(ctx, remoteIP)
	}
}

// HTTPIPResolver queries a JSON endpoint shaped like {"ip": "..."} and
// falls back to the remote address on any failure.
type HTTPIPResolver struct {
	URL    string
	Client *http.Client
	Log    logging.Logger
}

func NewHTTPIPResolver(url string, log logging.Logger) *HTTPIPResolver {
	return &HTTPIPResolver{URL: url, Client: &http.Client{Timeout: 3 * time.Second}, Log: log}
}

func (r *HTTPIPResolver) Resolve(ctx context.Context, remoteIP string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return remoteIP
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		r.Log.Warn(ctx, "public ip lookup failed", "err", err)
		return remoteIP
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.Log.Warn(ctx, "public ip lookup failed", "status", resp.StatusCode)
		return remoteIP
	}
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || net.ParseIP(body.IP) == nil {
		return remoteIP
	}
	return body.IP
}
