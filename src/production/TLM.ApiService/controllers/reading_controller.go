package controllers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	interfaces "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Interfaces"
)

// Dashboard tiles only show a reading this fresh; anything older renders
// as "no data".
const latestReadingWindow = 5 * time.Minute

// Default history span when the client gives no range.
const defaultHistoryDays = 7

// ReadingController serves the latest-reading and history endpoints
type ReadingController struct {
	readingRepo interfaces.ReadingRepository
	logger      *logger.Logger
	loc         *time.Location
	archive     bool
}

// NewReadingController creates a new reading controller
func NewReadingController(readingRepo interfaces.ReadingRepository, log *logger.Logger, loc *time.Location, archive bool) *ReadingController {
	return &ReadingController{
		readingRepo: readingRepo,
		logger:      log,
		loc:         loc,
		archive:     archive,
	}
}

// RegisterRoutes registers the reading routes with Gin
func (c *ReadingController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/data/latest", c.GetLatestData)
	api.GET("/history", c.GetHistory)
}

// GetLatestData returns the most recent reading across all devices, or
// null when nothing arrived inside the freshness window.
func (c *ReadingController) GetLatestData(ctx *gin.Context) {
	since := time.Now().UTC().Add(-latestReadingWindow)

	reading, err := c.readingRepo.GetLatestAny(ctx, since)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reading == nil {
		ctx.JSON(http.StatusOK, gin.H{"reading": nil})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"reading": gin.H{
			"device_id":   reading.DeviceID,
			"temperature": reading.Temperature,
			"humidity":    reading.Humidity,
			"pressure":    reading.Pressure,
			"timestamp":   reading.Timestamp.In(c.loc).Format(time.RFC3339),
		},
	})
}

// GetHistory returns archive entries grouped per calendar day in the
// display timezone, newest day first.
func (c *ReadingController) GetHistory(ctx *gin.Context) {
	if !c.archive {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "history archiving is disabled"})
		return
	}

	days := defaultHistoryDays
	if raw := ctx.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid days parameter"})
			return
		}
		days = parsed
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	entries, err := c.readingRepo.GetHistorySince(ctx, since)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"days": c.groupByDay(entries),
	})
}

type historyDay struct {
	Date    string                   `json:"date"`
	Entries []tlmmodels.HistoryEntry `json:"entries"`
}

func (c *ReadingController) groupByDay(entries []tlmmodels.HistoryEntry) []historyDay {
	grouped := make(map[string][]tlmmodels.HistoryEntry)
	for _, entry := range entries {
		day := entry.Timestamp.In(c.loc).Format("2006-01-02")
		grouped[day] = append(grouped[day], entry)
	}

	dates := make([]string, 0, len(grouped))
	for day := range grouped {
		dates = append(dates, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]historyDay, 0, len(dates))
	for _, day := range dates {
		out = append(out, historyDay{Date: day, Entries: grouped[day]})
	}
	return out
}
