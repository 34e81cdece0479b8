package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
	"github.com/SscSPs/mma_exchange/internal/dto"
	"github.com/SscSPs/mma_exchange/internal/middleware"
	"github.com/SscSPs/mma_exchange/internal/utils/pagination"
	"github.com/gin-gonic/gin"
)

const defaultHistoryLimit = 31

// exchangeRateHandler handles HTTP requests related to exchange rates.
type exchangeRateHandler struct {
	exchangeRateService portssvc.ExchangeRateSvcFacade
}

// newExchangeRateHandler creates a new exchangeRateHandler.
func newExchangeRateHandler(ers portssvc.ExchangeRateSvcFacade) *exchangeRateHandler {
	return &exchangeRateHandler{
		exchangeRateService: ers,
	}
}

// registerExchangeRateRoutes registers routes related to exchange rates. The refresh route is
// only registered when adminJWTSecret is set.
func registerExchangeRateRoutes(rg *gin.RouterGroup, exchangeRateService portssvc.ExchangeRateSvcFacade, adminJWTSecret string) {
	h := newExchangeRateHandler(exchangeRateService)

	exchangeRates := rg.Group("/exchange-rates")
	{
		exchangeRates.GET("/status", h.getStatus)
		exchangeRates.GET("/:from/:to", h.getExchangeRate)
		exchangeRates.GET("/:from/:to/history", h.listExchangeRates)
		if adminJWTSecret != "" {
			exchangeRates.POST("/refresh", middleware.AdminAuthMiddleware(adminJWTSecret), h.refreshExchangeRates)
		}
	}
}

// parsePair reads the :from and :to path parameters.
func parsePair(c *gin.Context) (domain.Currency, domain.Currency, error) {
	from, err := domain.ParseCurrency(c.Param("from"))
	if err != nil {
		return "", "", err
	}
	to, err := domain.ParseCurrency(c.Param("to"))
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func parseDate(name, raw string) (civil.Date, error) {
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: %s must be a YYYY-MM-DD date, got %q", apperrors.ErrValidation, name, raw)
	}
	return d, nil
}

// getExchangeRate returns the rate of a pair on ?date=, defaulting to today.
func (h *exchangeRateHandler) getExchangeRate(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	from, to, err := parsePair(c)
	if err != nil {
		respondError(c, logger, err, "Invalid currency pair")
		return
	}

	var query dto.ExchangeRateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		logger.Warn("Failed to bind query for GetExchangeRate", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters: " + err.Error()})
		return
	}
	date := h.exchangeRateService.Today()
	if query.Date != "" {
		if date, err = parseDate("date", query.Date); err != nil {
			respondError(c, logger, err, "Invalid date")
			return
		}
	}

	logger = logger.With(slog.String("from", from.String()), slog.String("to", to.String()), slog.String("date", date.String()))

	rate, err := h.exchangeRateService.Rate(from, to, date)
	if err != nil {
		respondError(c, logger, err, "Failed to retrieve exchange rate")
		return
	}

	logger.Debug("Exchange rate retrieved successfully", slog.Float64("rate", rate))
	c.JSON(http.StatusOK, dto.ToExchangeRateResponse(from, to, date, rate))
}

// listExchangeRates returns one page of daily rates between ?start= and ?end= (default today).
func (h *exchangeRateHandler) listExchangeRates(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	from, to, err := parsePair(c)
	if err != nil {
		respondError(c, logger, err, "Invalid currency pair")
		return
	}

	var params dto.ListExchangeRatesParams
	if err := c.ShouldBindQuery(&params); err != nil {
		logger.Warn("Failed to bind query for ListExchangeRates", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters: " + err.Error()})
		return
	}

	start, err := parseDate("start", params.Start)
	if err != nil {
		respondError(c, logger, err, "Invalid start date")
		return
	}
	end := h.exchangeRateService.Today()
	if params.End != "" {
		if end, err = parseDate("end", params.End); err != nil {
			respondError(c, logger, err, "Invalid end date")
			return
		}
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not be before start"})
		return
	}

	pageStart := start
	if params.PageToken != "" {
		resume, err := pagination.DecodeDateToken(params.PageToken)
		if err != nil || resume.Before(start) || resume.After(end) {
			logger.Warn("Invalid page token", slog.String("token", params.PageToken))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page token"})
			return
		}
		pageStart = resume
	}

	limit := params.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	pageEnd := pageStart.AddDays(limit - 1)
	if pageEnd.After(end) {
		pageEnd = end
	}

	rates, err := h.exchangeRateService.Series(from, to, pageStart, pageEnd)
	if err != nil {
		respondError(c, logger, err, "Failed to list exchange rates")
		return
	}

	resp := dto.ListExchangeRatesResponse{
		FromCurrencyCode: from.String(),
		ToCurrencyCode:   to.String(),
		Rates:            rates,
	}
	if pageEnd.Before(end) {
		next := pagination.EncodeDateToken(pageEnd.AddDays(1))
		resp.NextToken = &next
	}
	c.JSON(http.StatusOK, resp)
}

// getStatus reports the cached span of every pair.
func (h *exchangeRateHandler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ToStatusResponse(h.exchangeRateService.Today(), h.exchangeRateService.Bounds()))
}

// refreshExchangeRates reloads every pair from the cache and the rate source right away.
func (h *exchangeRateHandler) refreshExchangeRates(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	logger.Info("Received request to refresh exchange rates")

	if err := h.exchangeRateService.Reload(c.Request.Context()); err != nil {
		respondError(c, logger, err, "Failed to refresh exchange rates")
		return
	}

	logger.Info("Exchange rates refreshed")
	c.JSON(http.StatusOK, dto.ToStatusResponse(h.exchangeRateService.Today(), h.exchangeRateService.Bounds()))
}
