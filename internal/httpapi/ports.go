package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/melih/lightd/internal/apierr"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/portpool"
)

// PortHandler serves the /network/ports routes of spec.md §6.
type PortHandler struct {
	pool *portpool.Pool
}

func NewPortHandler(pool *portpool.Pool) *PortHandler {
	return &PortHandler{pool: pool}
}

type addPortRequest struct {
	IP       string          `json:"ip"`
	Port     uint16          `json:"port"`
	Protocol domain.Protocol `json:"protocol"`
}

func (h *PortHandler) Add(c *fiber.Ctx) error {
	var req addPortRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.AsResponse(c, apierr.BadRequest("invalid request body: %v", err))
	}
	if req.Protocol != domain.ProtocolTCP && req.Protocol != domain.ProtocolUDP {
		return apierr.AsResponse(c, apierr.BadRequest("unknown protocol %q", req.Protocol))
	}
	entry, err := h.pool.Add(c.Context(), req.IP, req.Port, req.Protocol)
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.JSON(entry)
}

func (h *PortHandler) List(c *fiber.Ctx) error {
	entries, err := h.pool.List(c.Context())
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.JSON(entries)
}

func (h *PortHandler) Random(c *fiber.Ctx) error {
	proto := domain.Protocol(c.Query("protocol", string(domain.ProtocolTCP)))
	entry, err := h.pool.PickRandomFree(c.Context(), proto)
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.JSON(entry)
}

type reserveRequest struct {
	IP       string          `json:"ip"`
	Port     uint16          `json:"port"`
	Protocol domain.Protocol `json:"protocol"`
}

func (h *PortHandler) Use(c *fiber.Ctx) error {
	var req reserveRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.AsResponse(c, apierr.BadRequest("invalid request body: %v", err))
	}
	entry, err := h.pool.Reserve(c.Context(), req.IP, req.Port, req.Protocol)
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.JSON(entry)
}

func (h *PortHandler) Delete(c *fiber.Ctx) error {
	var req reserveRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.AsResponse(c, apierr.BadRequest("invalid request body: %v", err))
	}
	if err := h.pool.Delete(c.Context(), req.IP, req.Port, req.Protocol); err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

type bulkDeleteRequest struct {
	Ports []struct {
		IP   string `json:"ip"`
		Port uint16 `json:"port"`
	} `json:"ports"`
}

func (h *PortHandler) BulkDelete(c *fiber.Ctx) error {
	var req bulkDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.AsResponse(c, apierr.BadRequest("invalid request body: %v", err))
	}
	pairs := make([]struct {
		IP   string
		Port uint16
	}, len(req.Ports))
	for i, p := range req.Ports {
		pairs[i] = struct {
			IP   string
			Port uint16
		}{IP: p.IP, Port: p.Port}
	}
	results, err := h.pool.BulkDelete(c.Context(), pairs)
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.JSON(results)
}
