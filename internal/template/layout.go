package template

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/hireflow/internal/pkg/logger"
)

// DefaultLayout wraps a rendered body when an organization has not
// configured its own branded layout.
const DefaultLayout = `<html><body>{{ body }}</body></html>`

// LayoutEngine renders org-branded HTML layouts around stage-email bodies
// using Liquid, with parsed-template caching.
type LayoutEngine struct {
	engine *liquid.Engine
	cache  sync.Map // md5(source) -> *liquid.Template
}

// NewLayoutEngine creates a layout engine.
func NewLayoutEngine() *LayoutEngine {
	return &LayoutEngine{engine: liquid.NewEngine()}
}

// Wrap renders the layout with the body and bindings injected. Layout
// failures are logged and fall back to the bare body: a broken layout must
// never block a send.
func (le *LayoutEngine) Wrap(layout, body string, bindings map[string]string) string {
	if layout == "" {
		layout = DefaultLayout
	}

	tpl, err := le.parse(layout)
	if err != nil {
		logger.Warn("layout parse failed, sending bare body", "error", err.Error())
		return body
	}

	vars := map[string]interface{}{"body": body}
	for k, v := range bindings {
		vars[k] = v
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		logger.Warn("layout render failed, sending bare body", "error", err.Error())
		return body
	}
	// Liquid swallows some malformed input instead of erroring (an
	// unterminated tag renders as literal text), so a successful render is
	// not enough: the body must actually be in the output.
	if body != "" && !strings.Contains(out, body) {
		logger.Warn("layout dropped the body, sending bare body")
		return body
	}
	return out
}

func (le *LayoutEngine) parse(source string) (*liquid.Template, error) {
	key := fmt.Sprintf("%x", md5.Sum([]byte(source)))
	if cached, ok := le.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := le.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	le.cache.Store(key, tpl)
	return tpl, nil
}
