package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"posbackoffice/backend/internal/domain"
)

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req domain.BranchCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	branch, err := a.service.CreateBranch(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"branch": branch})
}

func (a *API) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := a.service.GetBranch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": branch})
}

func (a *API) handleListBranchStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := a.service.ListStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": stocks})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := a.service.ListVariants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": variants})
}

func (a *API) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	var req domain.VariantCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	variant, err := a.service.CreateVariant(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"variant": variant})
}

func (a *API) handleListAddons(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	addons, err := a.service.ListAddons(r.Context(), includeInactive)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"addons": addons})
}

func (a *API) handleCreateAddon(w http.ResponseWriter, r *http.Request) {
	var req domain.AddonCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	addon, err := a.service.CreateAddon(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"addon": addon})
}

func (a *API) handleUpdateAddon(w http.ResponseWriter, r *http.Request) {
	var req domain.AddonUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	addon, err := a.service.UpdateAddon(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"addon": addon})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	customers, err := a.service.ListCustomers(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	customer, err := a.service.UpdateCustomer(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleGetStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, branchID := q.Get("product_id"), q.Get("branch_id")
	if productID == "" || branchID == "" {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "product_id and branch_id are required")
		return
	}
	stock, err := a.service.GetStock(r.Context(), productID, branchID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": stock, "available": stock.Available()})
}

func (a *API) handleListStockMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	movements, err := a.service.ListStockMovements(r.Context(), domain.MovementFilter{
		ProductID: q.Get("product_id"),
		BranchID:  q.Get("branch_id"),
		Limit:     parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleApplyStockMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.StockMovementRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.ApplyStockMovement(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
		return
	}
	q := r.URL.Query()
	txns, err := a.service.ListTransactions(r.Context(), domain.TransactionFilter{
		BranchID: q.Get("branch_id"),
		Status:   domain.TransactionStatus(q.Get("status")),
		From:     from,
		To:       to,
		Limit:    parsePositiveLimit(q.Get("limit"), 50, 500),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (a *API) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTransactionRequest
	if !a.decode(w, r, &req) {
		return
	}
	txn, err := a.service.CreateTransaction(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": txn})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (a *API) handleCompleteTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteTransactionRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	txn, err := a.service.CompleteTransaction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (a *API) handleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionStatusRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	txn, err := a.service.CancelTransaction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (a *API) handleHoldTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionStatusRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	txn, err := a.service.HoldTransaction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (a *API) handleResumeTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := a.service.ResumeTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
		return
	}
	branchID := r.URL.Query().Get("branch_id")
	if branchID == "" || from.IsZero() || to.IsZero() {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "branch_id and a date or from/to range are required")
		return
	}
	summary, err := a.service.SalesSummary(r.Context(), branchID, from, to)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
		return
	}
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("branch_id"), from, to, parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
