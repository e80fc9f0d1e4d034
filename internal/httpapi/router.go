package httpapi

import (
	"github.com/gofiber/fiber/v2"
)

// Deps bundles the handlers Router wires into the Fiber app. WSUpgrade
// gates the upgrade (token check); WSHandler is the actual
// websocket.New(...)-wrapped session handler.
type Deps struct {
	Containers *ContainerHandler
	Ports      *PortHandler
	Proxy      *ProxyHandler
	WSUpgrade  fiber.Handler
	WSHandler  fiber.Handler
	Token      string
}

// Router builds the Fiber app and registers every route from spec.md
// §6, mirroring the teacher's api/v1 grouping in cmd/api/main.go.
func Router(deps Deps) *fiber.App {
	app := fiber.New()

	app.Use(deps.Proxy.ProxyRequest)

	api := app.Group("/api")
	v1 := api.Group("/v1", AuthMiddleware(deps.Token))

	containers := v1.Group("/containers")
	containers.Post("/", deps.Containers.Create)
	containers.Get("/", deps.Containers.List)
	containers.Get("/:id", deps.Containers.Get)
	containers.Delete("/:id", deps.Containers.Delete)
	containers.Post("/:id/start", deps.Containers.Start)
	containers.Post("/:id/kill", deps.Containers.Kill)
	containers.Post("/:id/restart", deps.Containers.Restart)
	containers.Post("/:id/reinstall", deps.Containers.Reinstall)
	containers.Post("/:id/rebind-network", deps.Containers.RebindNetwork)

	network := v1.Group("/network/ports")
	network.Post("/", deps.Ports.Add)
	network.Get("/", deps.Ports.List)
	network.Get("/random", deps.Ports.Random)
	network.Put("/use", deps.Ports.Use)
	network.Delete("/", deps.Ports.Delete)
	network.Post("/bulk-delete", deps.Ports.BulkDelete)

	app.Use("/ws/:id", deps.WSUpgrade)
	app.Get("/ws/:id", deps.WSHandler)

	return app
}
