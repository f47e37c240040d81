package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"market_etl_backend/models"
)

// InstrumentController serves read-only views of instrument records
type InstrumentController struct {
	db *gorm.DB
}

// NewInstrumentController creates a new instrument controller
func NewInstrumentController(db *gorm.DB) *InstrumentController {
	return &InstrumentController{db: db}
}

// InstrumentTagView is one tag attached to an instrument
type InstrumentTagView struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Kind     string `json:"kind"`
	Category string `json:"category,omitempty"`
}

func clampLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// GetInstruments returns a page of instruments
// GET /api/v1/instruments?page=1&limit=50&sector=&status=&q=
func (ic *InstrumentController) GetInstruments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit := clampLimit(c.Query("limit"), 50, 500)

	query := ic.db.WithContext(c.Request.Context()).Model(&models.Instrument{})
	if sector := c.Query("sector"); sector != "" {
		query = query.Where("sector = ?", sector)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("market_status = ?", status)
	}
	if q := strings.ToLower(strings.TrimSpace(c.Query("q"))); q != "" {
		like := "%" + q + "%"
		query = query.Where("LOWER(symbol) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		Fail(c, http.StatusInternalServerError, "failed to count instruments")
		return
	}

	var instruments []models.Instrument
	if err := query.Order("symbol ASC").Limit(limit).Offset((page - 1) * limit).Find(&instruments).Error; err != nil {
		Fail(c, http.StatusInternalServerError, "failed to fetch instruments")
		return
	}

	Ok(c, instruments, map[string]any{
		"page":  page,
		"limit": limit,
		"total": total,
	})
}

// GetInstrument returns one instrument with its curated and derived tags
// GET /api/v1/instruments/:symbol
func (ic *InstrumentController) GetInstrument(c *gin.Context) {
	db := ic.db.WithContext(c.Request.Context())
	symbol := strings.ToUpper(c.Param("symbol"))

	var inst models.Instrument
	if err := db.Where("symbol = ?", symbol).Take(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(c, http.StatusNotFound, "instrument not found")
			return
		}
		Fail(c, http.StatusInternalServerError, "failed to fetch instrument")
		return
	}

	var tags []InstrumentTagView
	err := db.Model(&models.Tag{}).
		Select("tags.name, tags.label, tags.kind, tags.category").
		Joins("JOIN instrument_tags ON instrument_tags.tag_id = tags.id").
		Where("instrument_tags.instrument_id = ?", inst.ID).
		Order("tags.kind, tags.name").
		Scan(&tags).Error
	if err != nil {
		Fail(c, http.StatusInternalServerError, "failed to fetch tags")
		return
	}

	Ok(c, gin.H{"instrument": inst, "tags": tags}, nil)
}

// GetTopGainers returns instruments with the highest change percent
// GET /api/v1/market/top-gainers
func (ic *InstrumentController) GetTopGainers(c *gin.Context) {
	ic.ranked(c, "change_percent DESC", "change_percent IS NOT NULL")
}

// GetTopLosers returns instruments with the lowest change percent
// GET /api/v1/market/top-losers
func (ic *InstrumentController) GetTopLosers(c *gin.Context) {
	ic.ranked(c, "change_percent ASC", "change_percent IS NOT NULL")
}

// GetMostActive returns instruments with the highest turnover
// GET /api/v1/market/most-active
func (ic *InstrumentController) GetMostActive(c *gin.Context) {
	ic.ranked(c, "turnover DESC", "turnover IS NOT NULL")
}

func (ic *InstrumentController) ranked(c *gin.Context, order, cond string) {
	limit := clampLimit(c.Query("limit"), 10, 100)

	var instruments []models.Instrument
	err := ic.db.WithContext(c.Request.Context()).
		Where(cond).
		Order(order).
		Order("symbol ASC").
		Limit(limit).
		Find(&instruments).Error
	if err != nil {
		Fail(c, http.StatusInternalServerError, "failed to rank instruments")
		return
	}
	Ok(c, instruments, nil)
}
