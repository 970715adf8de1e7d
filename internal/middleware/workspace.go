package middleware

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
)

const workspaceKey = "workspace"

// Workspace is a per-request scratch directory. The directory is only
// created when a handler asks for it.
type Workspace struct {
	root string
	dir  string
}

// Dir returns the workspace directory, creating it on first use
func (w *Workspace) Dir() (string, error) {
	if w.dir != "" {
		return w.dir, nil
	}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(w.root, "request-*")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	w.dir = dir
	return dir, nil
}

func (w *Workspace) cleanup() {
	if w.dir == "" {
		return
	}
	if err := os.RemoveAll(w.dir); err != nil {
		log.Printf("Warning: Failed to remove workspace %s: %v", w.dir, err)
	}
}

// RequestWorkspace attaches a workspace under root to the request and
// removes it when the handler chain returns, including on panic.
func RequestWorkspace(root string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ws := &Workspace{root: root}
		defer ws.cleanup()

		c.Locals(workspaceKey, ws)
		return c.Next()
	}
}

// GetWorkspace returns the request workspace, or nil outside RequestWorkspace
func GetWorkspace(c *fiber.Ctx) *Workspace {
	ws, _ := c.Locals(workspaceKey).(*Workspace)
	return ws
}
