package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/melih/lightd/internal/apierr"
	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/install"
	"github.com/melih/lightd/internal/runtime"
)

// ContainerHandler serves the /containers routes of spec.md §6.
type ContainerHandler struct {
	store    *containerstore.Store
	pipeline *install.Pipeline
	sup      *runtime.Supervisor
	rebinder *runtime.Rebinder
}

func NewContainerHandler(store *containerstore.Store, pipeline *install.Pipeline, sup *runtime.Supervisor, rebinder *runtime.Rebinder) *ContainerHandler {
	return &ContainerHandler{store: store, pipeline: pipeline, sup: sup, rebinder: rebinder}
}

type createContainerRequest struct {
	InternalID     string               `json:"internal_id"`
	Image          string               `json:"image"`
	VolumeID       string               `json:"volume_id"`
	VolumeRepoURL  string               `json:"volume_repo_url,omitempty"`
	StartupCommand string               `json:"startup_command"`
	StartPattern   string               `json:"start_pattern,omitempty"`
	Ports          []domain.PortBinding `json:"ports"`
	Limits         domain.Limits        `json:"limits,omitempty"`
	Mount          map[string]string    `json:"mount,omitempty"`
	InstallScript  string               `json:"install_script,omitempty"`
}

// Create starts the install pipeline. Per spec.md §6, the response
// returns immediately with {message, internal_id, state: "installing"}
// while the pipeline runs in the background.
func (h *ContainerHandler) Create(c *fiber.Ctx) error {
	var req createContainerRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.AsResponse(c, apierr.BadRequest("invalid request body: %v", err))
	}
	if req.InternalID == "" || req.Image == "" || req.StartupCommand == "" {
		return apierr.AsResponse(c, apierr.BadRequest("internal_id, image, and startup_command are required"))
	}

	rec := domain.NewContainerRecord(req.InternalID, req.VolumeID, req.Image, req.StartupCommand)
	rec.VolumeRepoURL = req.VolumeRepoURL
	rec.StartPattern = req.StartPattern
	rec.Ports = req.Ports
	rec.Limits = req.Limits
	rec.InstallScript = req.InstallScript
	if req.Mount != nil {
		rec.Mounts = req.Mount
	}

	go func() {
		if err := h.pipeline.Install(c.Context(), rec); err != nil {
			// Pipeline already marks the record failed and publishes the
			// daemon_message; nothing further to do here.
			return
		}
	}()

	return c.JSON(fiber.Map{"message": "install started", "internal_id": rec.InternalID, "state": "installing"})
}

func (h *ContainerHandler) List(c *fiber.Ctx) error {
	records, err := h.store.List(c.Context())
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.JSON(records)
}

func (h *ContainerHandler) Get(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.JSON(rec)
}

func (h *ContainerHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, err := h.store.Get(c.Context(), id)
	if err != nil {
		return apierr.AsResponse(c, err)
	}
	if rec.RuntimeState != domain.RuntimeStopped && rec.RuntimeState != domain.RuntimeExited {
		if err := h.sup.Kill(c.Context(), id); err != nil {
			return apierr.AsResponse(c, err)
		}
	}
	if err := h.store.Delete(c.Context(), id); err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *ContainerHandler) Start(c *fiber.Ctx) error {
	if err := h.sup.Start(c.Context(), c.Params("id")); err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *ContainerHandler) Kill(c *fiber.Ctx) error {
	if err := h.sup.Kill(c.Context(), c.Params("id")); err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *ContainerHandler) Restart(c *fiber.Ctx) error {
	if err := h.sup.Restart(c.Context(), c.Params("id")); err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

type reinstallRequest struct {
	Image         *string `json:"image,omitempty"`
	InstallScript *string `json:"install_script,omitempty"`
}

func (h *ContainerHandler) Reinstall(c *fiber.Ctx) error {
	var req reinstallRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.AsResponse(c, apierr.BadRequest("invalid request body: %v", err))
	}
	id := c.Params("id")
	go func() {
		_ = h.pipeline.Reinstall(c.Context(), id, req.Image, req.InstallScript)
	}()
	return c.JSON(fiber.Map{"message": "reinstall started", "internal_id": id, "state": "installing"})
}

type rebindRequest struct {
	Ports []domain.PortBinding `json:"ports"`
}

func (h *ContainerHandler) RebindNetwork(c *fiber.Ctx) error {
	var req rebindRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.AsResponse(c, apierr.BadRequest("invalid request body: %v", err))
	}
	if err := h.rebinder.Rebind(c.Context(), c.Params("id"), req.Ports); err != nil {
		return apierr.AsResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}
