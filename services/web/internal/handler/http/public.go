package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/route"
)

// PageView names a page whose content is loaded by front-end scripts.
type PageView struct {
	View string `json:"view"`
	ID   string `json:"id,omitempty"`
}

// PageHandler serves the pages that carry no server-side data.
type PageHandler struct{}

// NewPageHandler creates a new page HTTP handler.
func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

func (h *PageHandler) page(view string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteData(w, PageView{View: view})
	}
}

// Landing handles GET /
func (h *PageHandler) Landing() http.HandlerFunc { return h.page("landing") }

// Marketplace handles GET /marketplace
func (h *PageHandler) Marketplace() http.HandlerFunc { return h.page("marketplace") }

// Checkout handles GET /checkout
func (h *PageHandler) Checkout() http.HandlerFunc { return h.page("checkout") }

// NewProduct handles GET /farmer/products/new
func (h *PageHandler) NewProduct() http.HandlerFunc { return h.page("add-product") }

// Product handles GET /product/{id}
func (h *PageHandler) Product(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		httputil.Redirect(w, r, route.PathHome)
		return
	}
	httputil.WriteData(w, PageView{View: "product", ID: id})
}

// NotFound sends unknown paths to the landing page.
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	httputil.Redirect(w, r, route.PathHome)
}
