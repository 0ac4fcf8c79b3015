package handlers_analytics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mohamedN2018/konoz/internal/models/kzanalytics"
)

type AnalyticsHandler struct {
	reports *kzanalytics.Reports
}

func NewAnalyticsHandler(reports *kzanalytics.Reports) *AnalyticsHandler {
	return &AnalyticsHandler{
		reports: reports,
	}
}

// GetDashboard retourne le paquet complet du tableau de bord avancé
func (ah *AnalyticsHandler) GetDashboard(c *gin.Context) {
	stats, err := ah.reports.DashboardStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve analytics",
		})
		return
	}

	monthly, err := ah.reports.MonthlyRollup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	geographic, err := ah.reports.GeographicRollup(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	hourly, err := ah.reports.HourlyRollup(kzanalytics.PeriodStart("7d"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	weekday, err := ah.reports.WeekdayRollup(kzanalytics.PeriodStart("90d"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	topPages, err := ah.reports.TopPages(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	recent, err := ah.reports.RecentSessions(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	realtime, err := ah.reports.RealtimeOverview()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":        stats,
		"monthly_data": monthly,
		"geographic":   geographic,
		"hourly_data":  hourly,
		"weekday_data": weekday,
		"top_pages":    topPages,
		"recent":       recent,
		"realtime":     realtime,
		"peak_hour":    kzanalytics.PeakHour(hourly),
		"peak_weekday": kzanalytics.PeakWeekday(weekday),
	})
}

// GetTimeAnalytics retourne les rollups temporels pour la période demandée.
// Un code de période inconnu retombe sur 30 jours.
func (ah *AnalyticsHandler) GetTimeAnalytics(c *gin.Context) {
	since := kzanalytics.PeriodStart(c.DefaultQuery("period", "30d"))

	hourly, err := ah.reports.HourlyRollup(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	daily, err := ah.reports.DailyRollup(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	weekday, err := ah.reports.WeekdayRollup(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hourly_data":  hourly,
		"daily_data":   daily,
		"weekday_data": weekday,
		"peak_hourly":  kzanalytics.PeakHour(hourly),
		"peak_weekday": kzanalytics.PeakWeekday(weekday),
		"peak_day":     kzanalytics.PeakDay(daily),
	})
}

// GetGeographic retourne le rollup géographique
func (ah *AnalyticsHandler) GetGeographic(c *gin.Context) {
	data, err := ah.reports.GeographicRollup(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	c.JSON(http.StatusOK, data)
}

// GetCountry retourne le détail d'un pays avec sa tendance
func (ah *AnalyticsHandler) GetCountry(c *gin.Context) {
	code := c.Param("code")

	detail, err := ah.reports.CountryDetail(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Country not found"})
		return
	}

	period := c.DefaultQuery("period", "30d")

	c.JSON(http.StatusOK, gin.H{
		"country": detail,
		"trend":   ah.reports.CountryTrend(code, period),
	})
}

// GetPages retourne les pages les plus vues et les pages d'atterrissage
func (ah *AnalyticsHandler) GetPages(c *gin.Context) {
	topPages, err := ah.reports.TopPages(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	landing, err := ah.reports.LandingPages(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"top_pages":     topPages,
		"landing_pages": landing,
	})
}

// GetDevices retourne la répartition appareils/navigateurs/OS
func (ah *AnalyticsHandler) GetDevices(c *gin.Context) {
	devices, err := ah.reports.DeviceBreakdown()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	browsers, err := ah.reports.TopBrowsers(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	oses, err := ah.reports.TopOperatingSystems(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices":           devices,
		"browsers":          browsers,
		"operating_systems": oses,
	})
}

// GetRealtime retourne les visiteurs en ligne et les compteurs du jour
func (ah *AnalyticsHandler) GetRealtime(c *gin.Context) {
	overview, err := ah.reports.RealtimeOverview()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve realtime stats"})
		return
	}

	pageViews, uniqueVisitors, err := ah.reports.TodayCounters()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve realtime stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"realtime":              overview,
		"today_page_views":      pageViews,
		"today_unique_visitors": uniqueVisitors,
	})
}

// GetRecentSessions retourne les dernières sessions
func (ah *AnalyticsHandler) GetRecentSessions(c *gin.Context) {
	recent, err := ah.reports.RecentSessions(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": recent})
}

// GetSession retourne le détail d'une session
func (ah *AnalyticsHandler) GetSession(c *gin.Context) {
	details, err := ah.reports.SessionDetails(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, details)
}

// ExportCSV renvoie le rapport complet au format CSV
func (ah *AnalyticsHandler) ExportCSV(c *gin.Context) {
	filename := fmt.Sprintf("analytics_%s.csv", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Status(http.StatusOK)

	if err := ah.reports.WriteCSV(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export analytics"})
	}
}
