package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/samara-industry/stockledger/internal/platform/httpx"
	"github.com/samara-industry/stockledger/internal/shared"
)

// Handler exposes the ledger as a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	reads     singleflight.Group
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.getProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deactivateProduct)
		r.Get("/{id}/materials", h.listMaterials)
		r.Post("/{id}/materials", h.addMaterial)
	})
	r.Delete("/materials/{id}", h.removeMaterial)

	r.Route("/pos", func(r chi.Router) {
		r.Get("/", h.listPOs)
		r.Post("/", h.createPO)
		r.Get("/{id}", h.getPO)
		r.Put("/{id}", h.updatePO)
		r.Delete("/{id}", h.closePO)
		r.Get("/{id}/ins", h.listPOStockIns)
	})

	r.Route("/ins", func(r chi.Router) {
		r.Get("/", h.listStockIns)
		r.Post("/", h.recordStockIn)
		r.Put("/{id}", h.editStockIn)
		r.Delete("/{id}", h.deleteStockIn)
	})

	r.Route("/outs", func(r chi.Router) {
		r.Get("/", h.listStockOuts)
		r.Post("/", h.recordStockOut)
		r.Put("/{id}", h.editStockOut)
		r.Delete("/{id}", h.deleteStockOut)
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.generateInvoice)
		r.Get("/{id}", h.getInvoice)
		r.Put("/{id}/status", h.setInvoiceStatus)
		r.Post("/{id}/items", h.addInvoiceItems)
		r.Delete("/{id}/items/{outId}", h.removeInvoiceItem)
	})
}

// decode reads a JSON body into dst and runs struct validation.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fmt.Sprintf("%s %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func flag(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// coalesce shares one in-flight read between concurrent identical requests.
// The shared read outlives the caller that started it.
func (h *Handler) coalesce(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := h.reads.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context(), ProductFilter{IncludeInactive: flag(r, "include_inactive")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.CreateProduct(r.Context(), CreateProductInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.UpdateProduct(r.Context(), UpdateProductInput{ID: chi.URLParam(r, "id"), Name: req.Name, Code: req.Code, Rate: req.Rate})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.DeactivateProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.service.ListMaterials(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, materials)
}

func (h *Handler) addMaterial(w http.ResponseWriter, r *http.Request) {
	var req MaterialRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.AddMaterial(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) removeMaterial(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveMaterial(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	filter := POFilter{ProductID: r.URL.Query().Get("product_id"), IncludeClosed: flag(r, "include_closed")}
	key := fmt.Sprintf("pos:%s:%t", filter.ProductID, filter.IncludeClosed)
	views, err := h.coalesce(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.service.ListPOs(ctx, filter)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.coalesce(r.Context(), "po:"+id, func(ctx context.Context) (any, error) {
		return h.service.GetPO(ctx, id)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req CreatePORequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.CreatePO(r.Context(), CreatePOInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) updatePO(w http.ResponseWriter, r *http.Request) {
	var req UpdatePORequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.UpdatePO(r.Context(), UpdatePOInput{ID: chi.URLParam(r, "id"), PONo: req.PONo, POQty: req.POQty})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) closePO(w http.ResponseWriter, r *http.Request) {
	po, err := h.service.ClosePO(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) listPOStockIns(w http.ResponseWriter, r *http.Request) {
	ins, err := h.service.ListStockIns(r.Context(), StockInFilter{POID: chi.URLParam(r, "id")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ins)
}

func (h *Handler) listStockIns(w http.ResponseWriter, r *http.Request) {
	ins, err := h.service.ListStockIns(r.Context(), StockInFilter{POID: r.URL.Query().Get("po_id")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ins)
}

func (h *Handler) recordStockIn(w http.ResponseWriter, r *http.Request) {
	var req StockInRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := h.service.RecordStockIn(r.Context(), StockInInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, in)
}

func (h *Handler) editStockIn(w http.ResponseWriter, r *http.Request) {
	var req EditEntryRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := h.service.EditStockIn(r.Context(), EditStockInInput{ID: chi.URLParam(r, "id"), Date: req.Date, Qty: req.Qty, Note: req.Note})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) deleteStockIn(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteStockIn(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listStockOuts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockOutFilter{POID: q.Get("po_id"), InvoiceID: q.Get("invoice_id"), UnassignedOnly: flag(r, "unassigned")}
	outs, err := h.service.ListStockOuts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outs)
}

func (h *Handler) recordStockOut(w http.ResponseWriter, r *http.Request) {
	var req StockOutRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.RecordStockOut(r.Context(), StockOutInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) editStockOut(w http.ResponseWriter, r *http.Request) {
	var req EditEntryRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.EditStockOut(r.Context(), EditStockOutInput{ID: chi.URLParam(r, "id"), Date: req.Date, Qty: req.Qty, Note: req.Note})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) deleteStockOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteStockOut(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListInvoices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	var req GenerateInvoiceRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GenerateInvoice(r.Context(), GenerateInvoiceInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) setInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req InvoiceStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.SetInvoiceStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) addInvoiceItems(w http.ResponseWriter, r *http.Request) {
	var req InvoiceItemsRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.AddInvoiceItems(r.Context(), chi.URLParam(r, "id"), req.OutIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) removeInvoiceItem(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.RemoveInvoiceItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "outId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
