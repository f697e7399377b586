package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), r.URL.Query().Get("shopId"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products, "count": len(products)})
}

func (a *API) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := a.service.SetStock(r.Context(), req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "stock updated",
		"shopId":    req.ShopID,
		"productId": req.ProductID,
		"quantity":  req.Quantity,
	})
}

func (a *API) handleEnsureCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := a.service.EnsureCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	status, message := http.StatusOK, "customer already exists"
	switch {
	case resp.Created:
		status, message = http.StatusCreated, "customer created"
	case len(resp.KeptFields) > 0:
		message = "customer already exists; stored values kept for " + strings.Join(resp.KeptFields, ", ")
	}
	payload := map[string]any{"message": message, "customer": resp.Customer, "created": resp.Created}
	if len(resp.KeptFields) > 0 {
		payload["keptFields"] = resp.KeptFields
	}
	writeJSON(w, status, payload)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "settings updated", "settings": settings})
}

func (a *API) handleCreateSalesOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.SalesOrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	order, err := a.service.CreateSalesOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "sales order created",
		"orderNumber": order.OrderNumber,
		"salesOrder":  order,
	})
}

func (a *API) handleNotCollected(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListNotCollected(r.Context(), r.URL.Query().Get("shopId"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders":     resp.Orders,
		"count":      resp.Count,
		"totalBags":  resp.TotalBags,
		"totalValue": resp.TotalValue,
	})
}

func (a *API) handleCorrections(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListCorrections(r.Context(), r.URL.Query().Get("shopId"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": resp.Orders, "count": resp.Count})
}

func (a *API) handleGetSalesOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetSalesOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"salesOrder": order})
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.StatusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	order, err := a.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "status updated", "salesOrder": order})
}

func (a *API) handlePartialCollection(w http.ResponseWriter, r *http.Request) {
	var req domain.PartialCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	order, err := a.service.ApplyPartialCollection(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "collection recorded", "salesOrder": order})
}

func (a *API) handleFlagCorrection(w http.ResponseWriter, r *http.Request) {
	var req domain.FlagCorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	order, err := a.service.FlagCorrection(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "order flagged for correction", "salesOrder": order})
}

func (a *API) handleResolveCorrection(w http.ResponseWriter, r *http.Request) {
	var req domain.ResolveCorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	order, err := a.service.ResolveCorrection(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "correction resolved", "salesOrder": order})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("shopId"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auditLogs": logs, "count": len(logs)})
}

func (a *API) handleListSalesPersons(w http.ResponseWriter, r *http.Request) {
	users := a.auth.ListSalesPersons(r.Context(), r.URL.Query().Get("shopId"))
	writeJSON(w, http.StatusOK, map[string]any{"salesPersons": users, "count": len(users)})
}

func (a *API) handleCreateSalesPerson(w http.ResponseWriter, r *http.Request) {
	var req domain.SalesPersonCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	user, err := a.auth.CreateSalesPerson(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "sales person created", "salesPerson": user})
}
