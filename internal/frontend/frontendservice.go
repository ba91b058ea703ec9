package frontend

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	MainPageName = "index.html"
)

// noCachePaths must always be revalidated so a new shell version is picked up.
var noCachePaths = map[string]bool{
	"/sw.js":                true,
	"/manifest.webmanifest": true,
}

// FrontendService serves the application shell from a directory on disk.
type FrontendService struct {
	staticDir string
	skipPaths []string
}

// NewFrontendService serves staticDir. Requests under skipPrefixes are left
// to other routes instead of falling back to the main page.
func NewFrontendService(staticDir string, skipPrefixes ...string) *FrontendService {
	return &FrontendService{
		staticDir: staticDir,
		skipPaths: skipPrefixes,
	}
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	if service.staticDir == "" {
		slog.Info("no static directory configured; application shell is not served")
		return
	}

	e.Use(service.noCacheMiddleware)
	e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Root:    service.staticDir,
		Index:   MainPageName,
		HTML5:   true,
		Skipper: service.skip,
	}))
}

func (service *FrontendService) skip(ctx echo.Context) bool {
	path := ctx.Request().URL.Path
	for _, prefix := range service.skipPaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func (service *FrontendService) noCacheMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if noCachePaths[ctx.Request().URL.Path] {
			service.setNoCache(ctx)
		}
		return next(ctx)
	}
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
