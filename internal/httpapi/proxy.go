package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/domain"
)

// ProxyHandler reverse-proxies subdomain requests to a running
// container's host port binding, generalized from the teacher's
// name/IPAddress lookup: our domain model has ports[] bindings against
// the host's own address rather than a per-container bridge IP, so the
// proxy always targets 127.0.0.1:<host port> for the container's first
// TCP binding.
type ProxyHandler struct {
	store *containerstore.Store
}

func NewProxyHandler(store *containerstore.Store) *ProxyHandler {
	return &ProxyHandler{store: store}
}

func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	host := c.Hostname()
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return c.Next()
	}
	subdomain := parts[0]
	if subdomain == "www" || subdomain == "" {
		return c.Next()
	}

	records, err := h.store.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("failed to list containers")
	}

	var targetPort uint16
	for _, rec := range records {
		if rec.InternalID != subdomain {
			continue
		}
		if rec.RuntimeState != domain.RuntimeRunning {
			continue
		}
		for _, p := range rec.Ports {
			if p.Protocol == domain.ProtocolTCP {
				targetPort = p.Port
				break
			}
		}
		break
	}

	if targetPort == 0 {
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("container %q not found or not running", subdomain))
	}

	remote, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", targetPort))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("invalid target URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(remote)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = remote.Host
		req.URL.Host = remote.Host
		req.URL.Scheme = remote.Scheme
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(fmt.Sprintf("proxy error: target=%s err=%v", remote.Host, err)))
	}

	return adaptor.HTTPHandler(proxy)(c)
}
