package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mirantepos/table-service/internal/repo"
	"github.com/mirantepos/table-service/internal/service"
)

func RegisterHandlers(r gin.IRoutes, svc *service.TableService) {
	r.POST("/tables/:id/orders", openOrderHandler(svc))
	r.POST("/items/:id/ready", itemReadyHandler(svc))
	r.POST("/items/:id/delivered", itemDeliveredHandler(svc))
	r.POST("/items/:id/void", voidItemHandler(svc))
	r.POST("/tables/:id/close", closeTableHandler(svc))
	r.GET("/tables", listTablesHandler(svc))
	r.GET("/tables/:id", tableSnapshotHandler(svc))
	r.GET("/stations/:station/queue", stationQueueHandler(svc))
	r.GET("/products", listProductsHandler(svc))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTableBusy),
		errors.Is(err, repo.ErrVersionConflict):
		// both are retryable races, same backoff advice for the client
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrOpenItemsExist),
		errors.Is(err, service.ErrInvalidDiscount),
		errors.Is(err, service.ErrEmptyOrder),
		errors.Is(err, service.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

type orderLine struct {
	ProductID uint64 `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
	Notes     string `json:"notes"`
}

type openOrderReq struct {
	Items []orderLine `json:"items" binding:"required"`
}

func openOrderHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req openOrderReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tableID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		lines := make([]service.OrderLine, 0, len(req.Items))
		for _, l := range req.Items {
			lines = append(lines, service.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity, Notes: l.Notes})
		}
		table, err := svc.OpenOrAddItems(c, actorFrom(c), tableID, lines)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, table)
	}
}

func itemReadyHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		item, err := svc.MarkItemReady(c, actorFrom(c), itemID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func itemDeliveredHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		item, err := svc.MarkItemDelivered(c, actorFrom(c), itemID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

type voidReq struct {
	Reason string `json:"reason" binding:"required"`
}

func voidItemHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req voidReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		itemID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		item, err := svc.VoidItem(c, actorFrom(c), itemID, req.Reason)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

type closeReq struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
	Discount      string `json:"discount"`
}

func closeTableHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req closeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		discount := decimal.Zero
		if req.Discount != "" {
			var err error
			discount, err = decimal.NewFromString(req.Discount)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid discount"})
				return
			}
		}
		tableID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		closure, err := svc.CloseTable(c, actorFrom(c), tableID, req.PaymentMethod, discount)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, closure)
	}
}

func listTablesHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tables, err := svc.ListTables(c)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, tables)
	}
}

func tableSnapshotHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		snap, err := svc.Snapshot(c, tableID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func stationQueueHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := svc.StationQueue(c, c.Param("station"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func listProductsHandler(svc *service.TableService) gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := svc.ListProducts(c)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	}
}
