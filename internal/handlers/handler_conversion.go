package handlers

import (
	"log/slog"
	"net/http"

	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
	"github.com/SscSPs/mma_exchange/internal/dto"
	"github.com/SscSPs/mma_exchange/internal/middleware"
	"github.com/gin-gonic/gin"
)

// conversionHandler handles bulk conversion of ledger rows.
type conversionHandler struct {
	conversionService portssvc.ConversionSvc
}

func registerConversionRoutes(rg *gin.RouterGroup, conversionService portssvc.ConversionSvc) {
	h := &conversionHandler{conversionService: conversionService}
	rg.POST("/conversions", h.convert)
}

// convert values every row in the target currency, at its own date or at valuationDate.
func (h *conversionHandler) convert(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	var req dto.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for Convert", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	to, rows, valuation, err := req.ToDomain()
	if err != nil {
		respondError(c, logger, err, "Invalid conversion request")
		return
	}
	logger = logger.With(slog.String("to", to.String()), slog.Int("rows", len(rows)))

	var converted []domain.ConvertedRow
	if valuation != nil {
		converted, err = h.conversionService.ConvertTableAt(to, rows, *valuation)
	} else {
		converted, err = h.conversionService.ConvertTable(to, rows)
	}
	if err != nil {
		respondError(c, logger, err, "Failed to convert rows")
		return
	}

	logger.Info("Rows converted")
	c.JSON(http.StatusOK, dto.ToConvertResponse(to, valuation, converted, h.conversionService.Total(converted)))
}
