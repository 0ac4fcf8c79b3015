package kzanalytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Reports expose les requêtes d'agrégation en lecture seule sur le flux
// d'événements persisté. Un jeu de données vide produit toujours des
// résultats zéro/vides bien définis, jamais une erreur.
type Reports struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewReports(db *gorm.DB, redisClient *redis.Client) *Reports {
	return &Reports{
		db:    db,
		redis: redisClient,
	}
}

// PeriodStart traduit un code de période en date de départ.
// Un code inconnu retombe sur 30 jours.
func PeriodStart(period string) time.Time {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch period {
	case "today":
		return today
	case "yesterday":
		return today.AddDate(0, 0, -1)
	case "7d":
		return today.AddDate(0, 0, -7)
	case "30d":
		return today.AddDate(0, 0, -30)
	case "90d":
		return today.AddDate(0, 0, -90)
	case "1y":
		return today.AddDate(-1, 0, 0)
	default:
		return today.AddDate(0, 0, -30)
	}
}

// DashboardStats regroupe les indicateurs de tête du tableau de bord
type DashboardStats struct {
	TotalSessions      int64         `json:"total_sessions"`
	ActiveSessions     int64         `json:"active_sessions"`
	TotalPageViews     int64         `json:"total_pageviews"`
	TodayPageViews     int64         `json:"today_pageviews"`
	AvgSessionDuration time.Duration `json:"avg_session_duration"`
	BounceRate         float64       `json:"bounce_rate"`
}

func (r *Reports) DashboardStats() (*DashboardStats, error) {
	stats := &DashboardStats{}

	if err := r.db.Model(&VisitorSession{}).Count(&stats.TotalSessions).Error; err != nil {
		return nil, fmt.Errorf("error counting sessions: %w", err)
	}
	if err := r.db.Model(&VisitorSession{}).Where("is_active = ?", true).Count(&stats.ActiveSessions).Error; err != nil {
		return nil, fmt.Errorf("error counting active sessions: %w", err)
	}
	if err := r.db.Model(&PageView{}).Count(&stats.TotalPageViews).Error; err != nil {
		return nil, fmt.Errorf("error counting page views: %w", err)
	}

	today := PeriodStart("today")
	if err := r.db.Model(&PageView{}).Where("timestamp >= ?", today).Count(&stats.TodayPageViews).Error; err != nil {
		return nil, fmt.Errorf("error counting today page views: %w", err)
	}

	var avg *float64
	if err := r.db.Model(&VisitorSession{}).Select("AVG(total_time_spent)").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("error averaging session duration: %w", err)
	}
	if avg != nil {
		stats.AvgSessionDuration = time.Duration(int64(*avg))
	}

	stats.BounceRate = r.BounceRate()

	return stats, nil
}

// BounceRate retourne le pourcentage de sessions à une seule page.
// Zéro session donne 0, pas une erreur.
func (r *Reports) BounceRate() float64 {
	var total, bounced int64
	r.db.Model(&VisitorSession{}).Count(&total)
	if total == 0 {
		return 0
	}
	r.db.Model(&VisitorSession{}).Where("page_count = ?", 1).Count(&bounced)

	return float64(bounced) / float64(total) * 100
}

// sessionRow porte les colonnes minimales pour le bucketing temporel
type sessionRow struct {
	StartTime      time.Time
	PageCount      uint
	TotalTimeSpent time.Duration
	IPAddress      string
}

func (r *Reports) sessionsSince(since time.Time) ([]sessionRow, error) {
	var rows []sessionRow
	err := r.db.Model(&VisitorSession{}).
		Select("start_time", "page_count", "total_time_spent", "ip_address").
		Where("start_time >= ?", since).
		Find(&rows).Error
	return rows, err
}

// HourlyBucket est une tranche horaire de la série 0–23, toujours dense
type HourlyBucket struct {
	Hour        int           `json:"hour"`
	HourDisplay string        `json:"hour_display"`
	Sessions    int64         `json:"sessions"`
	PageViews   int64         `json:"pageviews"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// HourlyRollup distribue les sessions sur les heures de la journée.
// Les heures sans données sont émises à zéro: la série fait toujours 24 éléments.
func (r *Reports) HourlyRollup(since time.Time) ([]HourlyBucket, error) {
	rows, err := r.sessionsSince(since)
	if err != nil {
		return nil, fmt.Errorf("error loading sessions: %w", err)
	}

	var sums [24]time.Duration
	result := make([]HourlyBucket, 24)
	for h := range result {
		result[h] = HourlyBucket{
			Hour:        h,
			HourDisplay: fmt.Sprintf("%02d:00", h),
		}
	}

	for _, row := range rows {
		h := row.StartTime.Hour()
		result[h].Sessions++
		result[h].PageViews += int64(row.PageCount)
		sums[h] += row.TotalTimeSpent
	}

	for h := range result {
		if result[h].Sessions > 0 {
			result[h].AvgDuration = sums[h] / time.Duration(result[h].Sessions)
		}
	}

	return result, nil
}

// WeekdayBucket est une tranche de la série jour-de-semaine 0–6 (0=dimanche)
type WeekdayBucket struct {
	Weekday     int           `json:"weekday"`
	DayName     string        `json:"day_name"`
	Sessions    int64         `json:"sessions"`
	PageViews   int64         `json:"pageviews"`
	AvgDuration time.Duration `json:"avg_duration"`
}

var weekdayNames = [7]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}

// WeekdayRollup distribue les sessions sur les jours de la semaine,
// série dense de 7 éléments.
func (r *Reports) WeekdayRollup(since time.Time) ([]WeekdayBucket, error) {
	rows, err := r.sessionsSince(since)
	if err != nil {
		return nil, fmt.Errorf("error loading sessions: %w", err)
	}

	var sums [7]time.Duration
	result := make([]WeekdayBucket, 7)
	for d := range result {
		result[d] = WeekdayBucket{
			Weekday: d,
			DayName: weekdayNames[d],
		}
	}

	for _, row := range rows {
		d := int(row.StartTime.Weekday())
		result[d].Sessions++
		result[d].PageViews += int64(row.PageCount)
		sums[d] += row.TotalTimeSpent
	}

	for d := range result {
		if result[d].Sessions > 0 {
			result[d].AvgDuration = sums[d] / time.Duration(result[d].Sessions)
		}
	}

	return result, nil
}

// DailyBucket est une journée calendaire agrégée
type DailyBucket struct {
	Date           string        `json:"date"`
	Sessions       int64         `json:"sessions"`
	PageViews      int64         `json:"pageviews"`
	UniqueVisitors int64         `json:"unique_visitors"`
	AvgDuration    time.Duration `json:"avg_duration"`
}

// DailyRollup agrège par jour calendaire, visiteurs uniques par IP distincte
func (r *Reports) DailyRollup(since time.Time) ([]DailyBucket, error) {
	rows, err := r.sessionsSince(since)
	if err != nil {
		return nil, fmt.Errorf("error loading sessions: %w", err)
	}

	buckets := make(map[string]*DailyBucket)
	sums := make(map[string]time.Duration)
	ips := make(map[string]map[string]struct{})

	for _, row := range rows {
		date := row.StartTime.Format("2006-01-02")
		b, ok := buckets[date]
		if !ok {
			b = &DailyBucket{Date: date}
			buckets[date] = b
			ips[date] = make(map[string]struct{})
		}
		b.Sessions++
		b.PageViews += int64(row.PageCount)
		sums[date] += row.TotalTimeSpent
		ips[date][row.IPAddress] = struct{}{}
	}

	dates := make([]string, 0, len(buckets))
	for date := range buckets {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	result := make([]DailyBucket, 0, len(dates))
	for _, date := range dates {
		b := buckets[date]
		b.UniqueVisitors = int64(len(ips[date]))
		if b.Sessions > 0 {
			b.AvgDuration = sums[date] / time.Duration(b.Sessions)
		}
		result = append(result, *b)
	}

	return result, nil
}

// MonthlyBucket est un mois calendaire agrégé
type MonthlyBucket struct {
	Year        int           `json:"year"`
	Month       int           `json:"month"`
	Sessions    int64         `json:"sessions"`
	PageViews   int64         `json:"pageviews"`
	AvgDuration time.Duration `json:"avg_duration"`
	BounceRate  float64       `json:"bounce_rate"`
}

// MonthlyRollup agrège par mois calendaire, les 12 derniers mois avec
// données, du plus récent au plus ancien.
func (r *Reports) MonthlyRollup() ([]MonthlyBucket, error) {
	rows, err := r.sessionsSince(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("error loading sessions: %w", err)
	}

	type monthKey struct {
		year  int
		month int
	}
	buckets := make(map[monthKey]*MonthlyBucket)
	sums := make(map[monthKey]time.Duration)
	bounces := make(map[monthKey]int64)

	for _, row := range rows {
		key := monthKey{row.StartTime.Year(), int(row.StartTime.Month())}
		b, ok := buckets[key]
		if !ok {
			b = &MonthlyBucket{Year: key.year, Month: key.month}
			buckets[key] = b
		}
		b.Sessions++
		b.PageViews += int64(row.PageCount)
		sums[key] += row.TotalTimeSpent
		if row.PageCount == 1 {
			bounces[key]++
		}
	}

	keys := make([]monthKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year > keys[j].year
		}
		return keys[i].month > keys[j].month
	})
	if len(keys) > 12 {
		keys = keys[:12]
	}

	result := make([]MonthlyBucket, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		if b.Sessions > 0 {
			b.AvgDuration = sums[key] / time.Duration(b.Sessions)
			b.BounceRate = float64(bounces[key]) / float64(b.Sessions)
		}
		result = append(result, *b)
	}

	return result, nil
}

// Peak désigne la tranche la plus chargée d'une série
type Peak struct {
	Label    string `json:"label"`
	Sessions int64  `json:"sessions"`
}

// PeakHour retourne l'heure de pointe d'une série horaire.
// Égalité: première occurrence dans l'ordre d'itération.
func PeakHour(series []HourlyBucket) *Peak {
	if len(series) == 0 {
		return nil
	}
	peak := series[0]
	for _, b := range series[1:] {
		if b.Sessions > peak.Sessions {
			peak = b
		}
	}
	return &Peak{Label: peak.HourDisplay, Sessions: peak.Sessions}
}

// PeakWeekday retourne le jour de pointe d'une série hebdomadaire
func PeakWeekday(series []WeekdayBucket) *Peak {
	if len(series) == 0 {
		return nil
	}
	peak := series[0]
	for _, b := range series[1:] {
		if b.Sessions > peak.Sessions {
			peak = b
		}
	}
	return &Peak{Label: peak.DayName, Sessions: peak.Sessions}
}

// PeakDay retourne la journée de pointe d'une série quotidienne
func PeakDay(series []DailyBucket) *Peak {
	if len(series) == 0 {
		return nil
	}
	peak := series[0]
	for _, b := range series[1:] {
		if b.Sessions > peak.Sessions {
			peak = b
		}
	}
	return &Peak{Label: peak.Date, Sessions: peak.Sessions}
}

// CountryTrend compare les sessions d'un pays sur la fenêtre récente et la
// fenêtre précédente de même longueur. 100 si le précédent est nul et le
// courant non nul, 0 si les deux sont nuls. Périodes admises: 7d, 30d.
func (r *Reports) CountryTrend(countryCode, period string) float64 {
	var days int
	switch period {
	case "7d":
		days = 7
	case "30d":
		days = 30
	default:
		return 0
	}

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	currentStart := today.AddDate(0, 0, -days)
	previousStart := currentStart.AddDate(0, 0, -days)

	var current, previous int64
	r.db.Model(&VisitorSession{}).
		Joins("JOIN countries ON countries.id = visitor_sessions.country_id").
		Where("countries.code = ? AND visitor_sessions.start_time >= ?", countryCode, currentStart).
		Count(&current)
	r.db.Model(&VisitorSession{}).
		Joins("JOIN countries ON countries.id = visitor_sessions.country_id").
		Where("countries.code = ? AND visitor_sessions.start_time >= ? AND visitor_sessions.start_time < ?",
			countryCode, previousStart, currentStart).
		Count(&previous)

	switch {
	case previous > 0:
		return float64(current-previous) / float64(previous) * 100
	case current > 0:
		return 100
	default:
		return 0
	}
}

// CountryShare est la part d'un pays dans le trafic
type CountryShare struct {
	Name       string  `json:"name"`
	Code       string  `json:"code"`
	Flag       string  `json:"flag"`
	Visits     int64   `json:"visits"`
	Percentage float64 `json:"percentage"`
	AvgTime    string  `json:"avg_time"`
}

// GeographicData est le rollup géographique complet
type GeographicData struct {
	Countries      []CountryShare `json:"countries"`
	TotalCountries int            `json:"total_countries"`
	TotalVisits    int64          `json:"total_visits"`
	TopCountry     string         `json:"top_country"`
}

// GeographicRollup retourne les K premiers pays par sessions avec leur part
// du total en pourcentage.
func (r *Reports) GeographicRollup(limit int) (*GeographicData, error) {
	type countryRow struct {
		Name      string
		Code      string
		FlagEmoji string
		Visits    int64
		RegTime   int64
		RegVisits int64
	}

	var rows []countryRow
	err := r.db.Model(&Country{}).
		Select("countries.name, countries.code, countries.flag_emoji, " +
			"COUNT(visitor_sessions.id) as visits, " +
			"countries.total_time_spent as reg_time, countries.visits as reg_visits").
		Joins("LEFT JOIN visitor_sessions ON visitor_sessions.country_id = countries.id").
		Group("countries.id, countries.name, countries.code, countries.flag_emoji, countries.total_time_spent, countries.visits").
		Order("visits DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error getting countries: %w", err)
	}

	var total int64
	for _, row := range rows {
		total += row.Visits
	}
	// Garde du dénominateur pour éviter la division par zéro
	denominator := total
	if denominator == 0 {
		denominator = 1
	}

	data := &GeographicData{
		Countries:      make([]CountryShare, 0, len(rows)),
		TotalCountries: len(rows),
		TotalVisits:    total,
	}

	for _, row := range rows {
		avg := time.Duration(0)
		if row.RegVisits > 0 {
			avg = time.Duration(row.RegTime / row.RegVisits)
		}
		data.Countries = append(data.Countries, CountryShare{
			Name:       row.Name,
			Code:       row.Code,
			Flag:       row.FlagEmoji,
			Visits:     row.Visits,
			Percentage: float64(row.Visits) / float64(denominator) * 100,
			AvgTime:    FormatDuration(avg),
		})
	}

	if len(data.Countries) > 0 {
		data.TopCountry = data.Countries[0].Name
	}

	return data, nil
}

// PageStat agrège une page (url, titre)
type PageStat struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Views      int64         `json:"views"`
	AvgTime    time.Duration `json:"avg_time"`
	BounceRate float64       `json:"bounce_rate"`
}

// TopPages retourne les pages les plus vues avec temps moyen et taux de
// rebond par page dans [0,1].
func (r *Reports) TopPages(limit int) ([]PageStat, error) {
	type pageRow struct {
		URL        string
		Title      string
		Views      int64
		AvgTime    float64
		BounceRate float64
	}

	var rows []pageRow
	err := r.db.Model(&PageView{}).
		Select("url, title, COUNT(*) as views, AVG(time_spent) as avg_time, AVG(is_bounce) as bounce_rate").
		Group("url, title").
		Order("views DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error getting top pages: %w", err)
	}

	result := make([]PageStat, 0, len(rows))
	for _, row := range rows {
		result = append(result, PageStat{
			URL:        row.URL,
			Title:      row.Title,
			Views:      row.Views,
			AvgTime:    time.Duration(int64(row.AvgTime)),
			BounceRate: row.BounceRate,
		})
	}

	return result, nil
}

// LandingStat agrège les pages d'atterrissage des sessions
type LandingStat struct {
	LandingPage string        `json:"landing_page"`
	Count       int64         `json:"count"`
	AvgTime     time.Duration `json:"avg_time"`
}

func (r *Reports) LandingPages(limit int) ([]LandingStat, error) {
	type landingRow struct {
		LandingPage string
		Count       int64
		AvgTime     float64
	}

	var rows []landingRow
	err := r.db.Model(&VisitorSession{}).
		Select("landing_page, COUNT(*) as count, AVG(total_time_spent) as avg_time").
		Group("landing_page").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error getting landing pages: %w", err)
	}

	result := make([]LandingStat, 0, len(rows))
	for _, row := range rows {
		result = append(result, LandingStat{
			LandingPage: row.LandingPage,
			Count:       row.Count,
			AvgTime:     time.Duration(int64(row.AvgTime)),
		})
	}

	return result, nil
}

// DeviceStat est la répartition par type d'appareil
type DeviceStat struct {
	DeviceType  string        `json:"device_type"`
	Count       int64         `json:"count"`
	AvgDuration time.Duration `json:"avg_duration"`
	BounceRate  float64       `json:"bounce_rate"`
}

func (r *Reports) DeviceBreakdown() ([]DeviceStat, error) {
	type deviceRow struct {
		DeviceType  string
		Count       int64
		AvgDuration float64
		BounceRate  float64
	}

	var rows []deviceRow
	err := r.db.Model(&VisitorSession{}).
		Select("device_type, COUNT(*) as count, AVG(total_time_spent) as avg_duration, " +
			"AVG(CASE WHEN page_count = 1 THEN 1.0 ELSE 0.0 END) as bounce_rate").
		Group("device_type").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error getting device breakdown: %w", err)
	}

	result := make([]DeviceStat, 0, len(rows))
	for _, row := range rows {
		result = append(result, DeviceStat{
			DeviceType:  row.DeviceType,
			Count:       row.Count,
			AvgDuration: time.Duration(int64(row.AvgDuration)),
			BounceRate:  row.BounceRate,
		})
	}

	return result, nil
}

// NameCount est un simple couple libellé/compte
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func (r *Reports) TopBrowsers(limit int) ([]NameCount, error) {
	var rows []NameCount
	err := r.db.Model(&VisitorSession{}).
		Select("browser as name, COUNT(*) as count").
		Group("browser").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error getting browsers: %w", err)
	}
	return rows, nil
}

func (r *Reports) TopOperatingSystems(limit int) ([]NameCount, error) {
	var rows []NameCount
	err := r.db.Model(&VisitorSession{}).
		Select("os as name, COUNT(*) as count").
		Group("os").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error getting operating systems: %w", err)
	}
	return rows, nil
}

// SessionSummary résume une session pour les listes récentes
type SessionSummary struct {
	SessionID string        `json:"session_id"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Pages     uint          `json:"pages"`
	Country   string        `json:"country"`
	Flag      string        `json:"flag"`
	Device    string        `json:"device"`
	IsActive  bool          `json:"is_active"`
}

func (r *Reports) RecentSessions(limit int) ([]SessionSummary, error) {
	var sessions []VisitorSession
	err := r.db.Preload("Country").
		Order("start_time DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("error getting recent sessions: %w", err)
	}

	result := make([]SessionSummary, 0, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		summary := SessionSummary{
			SessionID: s.SessionID,
			StartTime: s.StartTime,
			Duration:  s.Duration(),
			Pages:     s.PageCount,
			Country:   "inconnu",
			Flag:      "🌐",
			Device:    s.DeviceType,
			IsActive:  s.IsActive,
		}
		if s.Country != nil {
			summary.Country = s.Country.Name
			summary.Flag = s.Country.FlagEmoji
		}
		result = append(result, summary)
	}

	return result, nil
}

// OnlineVisitor est une entrée de la vue "qui est en ligne"
type OnlineVisitor struct {
	SessionID    string        `json:"session_id"`
	CurrentPage  string        `json:"current_page"`
	TimeOnPage   time.Duration `json:"time_on_page"`
	Country      string        `json:"country"`
	Flag         string        `json:"flag"`
	City         string        `json:"city"`
	Device       string        `json:"device"`
	Browser      string        `json:"browser"`
	IsNew        bool          `json:"is_new"`
	LastActivity time.Time     `json:"last_activity"`
}

// OnlineVisitors liste les sessions dont la présence a été rafraîchie il y
// a strictement moins de 5 minutes. Exactement 300 secondes = hors ligne.
func (r *Reports) OnlineVisitors() ([]OnlineVisitor, error) {
	now := time.Now()
	threshold := now.Add(-OnlineWindow)

	var visitors []RealTimeVisitor
	err := r.db.Preload("Session.Country").
		Where("last_activity > ?", threshold).
		Order("last_activity DESC").
		Find(&visitors).Error
	if err != nil {
		return nil, fmt.Errorf("error getting realtime visitors: %w", err)
	}

	result := make([]OnlineVisitor, 0, len(visitors))
	for i := range visitors {
		rv := &visitors[i]
		entry := OnlineVisitor{
			CurrentPage:  rv.CurrentPage,
			TimeOnPage:   rv.TimeOnPage,
			Country:      "inconnu",
			Flag:         "🌐",
			LastActivity: rv.LastActivity,
		}
		if rv.Session != nil {
			entry.SessionID = rv.Session.SessionID
			entry.City = rv.Session.City
			entry.Device = rv.Session.DeviceType
			entry.Browser = rv.Session.Browser
			entry.IsNew = now.Sub(rv.Session.StartTime) < NewVisitorWindow
			if rv.Session.Country != nil {
				entry.Country = rv.Session.Country.Name
				entry.Flag = rv.Session.Country.FlagEmoji
			}
		}
		result = append(result, entry)
	}

	return result, nil
}

// RealtimeOverview regroupe les visiteurs en ligne et leurs répartitions
type RealtimeOverview struct {
	Visitors       []OnlineVisitor  `json:"visitors"`
	TotalOnline    int              `json:"total_online"`
	CountriesCount map[string]int64 `json:"countries_count"`
	DevicesCount   map[string]int64 `json:"devices_count"`
	LastUpdate     time.Time        `json:"last_update"`
}

func (r *Reports) RealtimeOverview() (*RealtimeOverview, error) {
	visitors, err := r.OnlineVisitors()
	if err != nil {
		return nil, err
	}

	overview := &RealtimeOverview{
		Visitors:       visitors,
		TotalOnline:    len(visitors),
		CountriesCount: make(map[string]int64),
		DevicesCount:   make(map[string]int64),
		LastUpdate:     time.Now(),
	}
	for _, v := range visitors {
		overview.CountriesCount[v.Country]++
		overview.DevicesCount[v.Device]++
	}

	return overview, nil
}

// TodayCounters lit les compteurs Redis du jour (vues, visiteurs uniques)
func (r *Reports) TodayCounters() (int64, int64, error) {
	if r.redis == nil {
		return 0, 0, nil
	}

	ctx := context.Background()
	today := time.Now().Format("2006-01-02")

	pageViews, err := r.redis.HGet(ctx, "analytics:daily:"+today, "page_views").Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}

	uniqueVisitors, err := r.redis.SCard(ctx, "analytics:visitors:"+today).Result()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}

	return pageViews, uniqueVisitors, nil
}

// SessionDetails rassemble une session, ses vues ordonnées et ses stats
type SessionDetails struct {
	Session        *VisitorSession `json:"session"`
	PageViews      []PageView      `json:"pageviews"`
	Duration       time.Duration   `json:"duration"`
	AvgTimePerPage time.Duration   `json:"avg_time_per_page"`
	IsBounce       bool            `json:"is_bounce"`
}

func (r *Reports) SessionDetails(token string) (*SessionDetails, error) {
	var session VisitorSession
	err := r.db.Preload("Country").Where("session_id = ?", token).First(&session).Error
	if err != nil {
		return nil, fmt.Errorf("error getting session: %w", err)
	}

	var views []PageView
	err = r.db.Where("visitor_session_id = ?", session.ID).Order("timestamp ASC").Find(&views).Error
	if err != nil {
		return nil, fmt.Errorf("error getting page views: %w", err)
	}

	details := &SessionDetails{
		Session:   &session,
		PageViews: views,
		Duration:  session.Duration(),
		IsBounce:  session.PageCount == 1,
	}
	if session.PageCount > 0 {
		details.AvgTimePerPage = details.Duration / time.Duration(session.PageCount)
	}

	return details, nil
}

// CountryDetail est le rapport par pays
type CountryDetail struct {
	Country        *Country       `json:"country"`
	TotalVisits    int64          `json:"total_visits"`
	AvgSessionTime time.Duration  `json:"avg_session_time"`
	PopularPages   []PageStat     `json:"popular_pages"`
	Devices        []NameCount    `json:"devices"`
	HourlySessions []HourlyBucket `json:"hourly_sessions"`
}

func (r *Reports) CountryDetail(code string) (*CountryDetail, error) {
	var country Country
	if err := r.db.Where("code = ?", code).First(&country).Error; err != nil {
		return nil, fmt.Errorf("error getting country: %w", err)
	}

	detail := &CountryDetail{Country: &country}

	if err := r.db.Model(&VisitorSession{}).Where("country_id = ?", country.ID).Count(&detail.TotalVisits).Error; err != nil {
		return nil, fmt.Errorf("error counting country sessions: %w", err)
	}

	var avg *float64
	err := r.db.Model(&VisitorSession{}).
		Where("country_id = ?", country.ID).
		Select("AVG(total_time_spent)").
		Scan(&avg).Error
	if err != nil {
		return nil, fmt.Errorf("error averaging country sessions: %w", err)
	}
	if avg != nil {
		detail.AvgSessionTime = time.Duration(int64(*avg))
	}

	type pageRow struct {
		URL   string
		Title string
		Views int64
	}
	var pages []pageRow
	err = r.db.Model(&PageView{}).
		Select("page_views.url, page_views.title, COUNT(*) as views").
		Joins("JOIN visitor_sessions ON visitor_sessions.id = page_views.visitor_session_id").
		Where("visitor_sessions.country_id = ?", country.ID).
		Group("page_views.url, page_views.title").
		Order("views DESC").
		Limit(10).
		Scan(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("error getting country pages: %w", err)
	}
	for _, p := range pages {
		detail.PopularPages = append(detail.PopularPages, PageStat{URL: p.URL, Title: p.Title, Views: p.Views})
	}

	err = r.db.Model(&VisitorSession{}).
		Select("device_type as name, COUNT(*) as count").
		Where("country_id = ?", country.ID).
		Group("device_type").
		Order("count DESC").
		Scan(&detail.Devices).Error
	if err != nil {
		return nil, fmt.Errorf("error getting country devices: %w", err)
	}

	var rows []sessionRow
	err = r.db.Model(&VisitorSession{}).
		Select("start_time", "page_count", "total_time_spent", "ip_address").
		Where("country_id = ?", country.ID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error loading country sessions: %w", err)
	}

	hourly := make([]HourlyBucket, 24)
	for h := range hourly {
		hourly[h] = HourlyBucket{Hour: h, HourDisplay: fmt.Sprintf("%02d:00", h)}
	}
	for _, row := range rows {
		h := row.StartTime.Hour()
		hourly[h].Sessions++
		hourly[h].PageViews += int64(row.PageCount)
	}
	detail.HourlySessions = hourly

	return detail, nil
}

// FormatDuration rend une durée au format HH:MM:SS
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
