// Package proxy implements the Subdomain Router / Proxy (spec §4.G):
// it extracts a UUIDv4 subdomain from the request hostname, resolves it
// to a running container's host port via the Container Registry, and
// forwards the request (including WebSocket upgrades) to that backend.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sasta-kro/training-orchestrator/activity"
	"github.com/sasta-kro/training-orchestrator/db"
	"github.com/sasta-kro/training-orchestrator/models"
)

// Registry is the subset of *db.Database the proxy reads.
type Registry interface {
	GetBySubdomainRunning(subdomain string) (*models.ContainerRecord, error)
}

// Proxy resolves subdomains to backend containers and forwards traffic.
type Proxy struct {
	registry Registry
	activity *activity.Tracker
	fallback http.Handler
	timeout  time.Duration
	logger   *slog.Logger
}

// New constructs a Proxy. fallback is served for any hostname that does
// not carry a valid UUIDv4 leftmost label (spec's "pass-through to the
// main application").
func New(registry Registry, tracker *activity.Tracker, fallback http.Handler, timeout time.Duration, logger *slog.Logger) *Proxy {
	return &Proxy{registry: registry, activity: tracker, fallback: fallback, timeout: timeout, logger: logger}
}

// ServeHTTP implements http.Handler, grounded on the teacher pack's
// httputil.NewSingleHostReverseProxy + custom Director/ErrorHandler idiom
// (cuemby-warren/pkg/ingress/proxy.go, volaticloud-volaticloud's
// internal/proxy/bot_proxy.go).
func (proxy *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subdomain, ok := extractSubdomain(r.Host)
	if !ok {
		proxy.fallback.ServeHTTP(w, r)
		return
	}

	record, err := proxy.registry.GetBySubdomainRunning(subdomain)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			writeJSONError(w, http.StatusNotFound, "Container not found or not running", subdomain)
			return
		}
		proxy.logger.Error("registry lookup failed", "subdomain", subdomain, "error", err)
		writeJSONError(w, http.StatusBadGateway, "Proxy error", "")
		return
	}

	targetURL, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%s", record.HostPort))
	if err != nil {
		proxy.logger.Error("invalid backend address", "subdomain", subdomain, "host_port", record.HostPort, "error", err)
		writeJSONError(w, http.StatusBadGateway, "Proxy error", "invalid backend address")
		return
	}

	reverseProxy := httputil.NewSingleHostReverseProxy(targetURL)

	originalDirector := reverseProxy.Director
	reverseProxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = targetURL.Host
		req.Header.Set("X-Forwarded-For", req.RemoteAddr)
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Forwarded-Host", r.Host)
	}

	reverseProxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		proxy.logger.Warn("upstream proxy error", "subdomain", subdomain, "error", err)
		writeJSONError(w, http.StatusBadGateway, "Proxy error", err.Error())
	}

	// A WebSocket upgrade is a long-lived, interactive stream by design
	// (spec §4.G "support WebSocket upgrade transparently"); bounding it
	// by the same timeout as a plain HTTP request would sever it as soon
	// as PROXY_TIMEOUT elapses, so it is exempt.
	if proxy.timeout > 0 && !isWebSocketUpgrade(r) {
		ctx, cancel := context.WithTimeout(r.Context(), proxy.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	reverseProxy.ServeHTTP(w, r)

	proxy.activity.Touch(subdomain)
}

// extractSubdomain pulls the leftmost DNS label off host and validates it
// as a UUIDv4 (spec §4.G). A hostname with fewer than 3 labels, or whose
// leftmost label is not a UUIDv4, falls through with ok=false so the
// caller can serve the main application instead.
func extractSubdomain(host string) (subdomain string, ok bool) {
	hostname := host
	if colonIndex := strings.LastIndexByte(hostname, ':'); colonIndex != -1 {
		hostname = hostname[:colonIndex]
	}

	labels := strings.Split(hostname, ".")
	if len(labels) < 3 {
		return "", false
	}

	candidate := labels[0]
	parsed, err := uuid.Parse(candidate)
	if err != nil || parsed.Version() != 4 {
		return "", false
	}

	return candidate, true
}

// isWebSocketUpgrade reports whether r is requesting a protocol upgrade
// to WebSocket, per RFC 6455's Connection/Upgrade header pair.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

type proxyErrorBody struct {
	Error     string `json:"error"`
	Subdomain string `json:"subdomain,omitempty"`
	Message   string `json:"message,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := proxyErrorBody{Error: message}
	if status == http.StatusNotFound {
		body.Subdomain = detail
	} else {
		body.Message = detail
	}
	_ = json.NewEncoder(w).Encode(body)
}
