package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/models"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
)

func respondError(c *gin.Context, err error) {
	if appErr, ok := utils.AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr.Message, "kind": string(appErr.Kind)})
		return
	}
	config.LogError(config.GetLogger(), "handlers.go", "respondError", c.FullPath(), nil, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func loginHandler(c *gin.Context) {
	var input models.LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	result, err := models.Login(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func logoutHandler(c *gin.Context) {
	token := c.Request.Header.Get("token")
	if token == "" {
		c.Status(http.StatusNoContent)
		return
	}
	if err := models.Logout(c.Request.Context(), token); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func createUserHandler(c *gin.Context) {
	var input models.NewUser
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func createCustomerHandler(c *gin.Context) {
	var input models.NewCustomer
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	customer, err := models.CreateCustomer(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func createCurrencyExchangeHandler(c *gin.Context) {
	var input models.NewCurrencyExchange
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	exchange, err := models.CreateCurrencyExchange(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exchange)
}

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func listProductsHandler(c *gin.Context) {
	products, err := models.GetProducts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	// Listings carry availability so the UI never needs one query per row.
	ids := make([]int, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	availability, err := models.ProductAvailabilityBulk(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}

	type productWithAvailability struct {
		*models.Product
		AvailableQty decimal.Decimal `json:"available_qty"`
	}
	out := make([]productWithAvailability, 0, len(products))
	for _, p := range products {
		out = append(out, productWithAvailability{Product: p, AvailableQty: availability[p.ID]})
	}
	c.JSON(http.StatusOK, out)
}

func getProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	product, err := models.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func updateProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.UpdateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	product, err := models.UpdateProduct(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func deleteProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	if err := models.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func productAvailabilityHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	excludeInvoiceId := 0
	if v := c.Query("exclude_invoice_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exclude_invoice_id"})
			return
		}
		excludeInvoiceId = n
	}
	available, err := models.ProductAvailability(c.Request.Context(), id, excludeInvoiceId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "available_qty": available})
}

func adjustProductStockHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewStockAdjustment
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	product, err := models.AdjustProductStock(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func createInvoiceHandler(c *gin.Context) {
	var input models.NewInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	invoice, err := models.CreateInvoice(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func getInvoiceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	invoice, err := models.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func updateInvoiceDiscountHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.UpdateInvoiceDiscountInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	invoice, err := models.UpdateInvoiceDiscount(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func cancelInvoiceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	invoice, err := models.CancelInvoice(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func deleteInvoiceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	if err := models.DeleteInvoice(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func invoiceHistoriesHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	histories, err := models.GetHistories(c.Request.Context(), models.AuditReferenceTypeInvoice, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

func addInvoiceItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewInvoiceItem
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	item, err := models.AddInvoiceItem(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func updateInvoiceItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.UpdateInvoiceItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	item, err := models.UpdateInvoiceItem(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func removeInvoiceItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	if err := models.RemoveInvoiceItem(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type voidItemRequest struct {
	Quantity *decimal.Decimal `json:"quantity"`
	Reason   string           `json:"reason" binding:"required"`
}

func voidInvoiceItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req voidItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	item, err := models.VoidInvoiceItem(c.Request.Context(), id, req.Quantity, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func recordInvoiceTransactionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewInvoiceTransaction
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	transaction, err := models.RecordInvoiceTransaction(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transaction)
}

func voidInvoiceTransactionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	transaction, err := models.VoidInvoiceTransaction(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

func createSalesReturnHandler(c *gin.Context) {
	var input models.NewSalesReturn
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	salesReturn, err := models.CreateSalesReturn(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, salesReturn)
}

func getSalesReturnHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	salesReturn, err := models.GetSalesReturn(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, salesReturn)
}
