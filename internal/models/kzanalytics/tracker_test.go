package kzanalytics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohamedN2018/konoz/internal/models/kzgeo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ============= Setup et Teardown =============

const testUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func setupTestDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Une seule connexion: chaque connexion sqlite :memory: verrait une base vide
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(testDB))

	return testDB
}

func newTestTracker(t *testing.T) (*Tracker, *gorm.DB) {
	db := setupTestDB(t)
	return NewTracker(db, nil, kzgeo.NewResolver("")), db
}

func newSignals(token string) RequestSignals {
	return RequestSignals{
		Token:       token,
		IPAddress:   "203.0.113.10",
		UserAgent:   testUserAgent,
		Referrer:    "https://www.google.com/",
		LandingPage: "http://example.com/home",
	}
}

// ============= Sessions =============

func TestFindOrCreateSessionEmptyToken(t *testing.T) {
	tracker, _ := newTestTracker(t)

	session := tracker.FindOrCreateSession(RequestSignals{Token: ""})
	assert.Nil(t, session)
}

func TestFindOrCreateSessionCreates(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-create"))
	require.NotNil(t, session)

	assert.Equal(t, "tok-create", session.SessionID)
	assert.Equal(t, "203.0.113.10", session.IPAddress)
	assert.Equal(t, kzgeo.DeviceDesktop, session.DeviceType)
	assert.Equal(t, "Chrome", session.Browser)
	assert.Equal(t, "Windows", session.OS)
	assert.Equal(t, "https://www.google.com/", session.Referrer)
	assert.Equal(t, "http://example.com/home", session.LandingPage)
	assert.True(t, session.IsActive)
	assert.Equal(t, uint(1), session.PageCount)
	assert.Nil(t, session.EndTime)

	var count int64
	db.Model(&VisitorSession{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestFindOrCreateSessionReuses(t *testing.T) {
	tracker, db := newTestTracker(t)

	first := tracker.FindOrCreateSession(newSignals("tok-reuse"))
	require.NotNil(t, first)

	// Une deuxième requête avec des signaux différents retrouve la session
	// sans toucher aux attributs figés à la création
	sig := newSignals("tok-reuse")
	sig.IPAddress = "198.51.100.99"
	sig.LandingPage = "http://example.com/other"
	second := tracker.FindOrCreateSession(sig)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "203.0.113.10", second.IPAddress)
	assert.Equal(t, "http://example.com/home", second.LandingPage)

	var count int64
	db.Model(&VisitorSession{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestFindOrCreateSessionIgnoresEnded(t *testing.T) {
	tracker, db := newTestTracker(t)

	first := tracker.FindOrCreateSession(newSignals("tok-ended"))
	require.NotNil(t, first)
	require.NoError(t, tracker.EndSession(first))

	// Le jeton est unique en base: une session terminée bloque la création
	// d'une nouvelle sous le même jeton, le tracker retourne nil
	second := tracker.FindOrCreateSession(newSignals("tok-ended"))
	assert.Nil(t, second)

	var count int64
	db.Model(&VisitorSession{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestFindOrCreateSessionBotFlag(t *testing.T) {
	tracker, _ := newTestTracker(t)

	sig := newSignals("tok-bot")
	sig.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	session := tracker.FindOrCreateSession(sig)
	require.NotNil(t, session)

	assert.Equal(t, true, session.Metadata["is_bot"])
}

// ============= Vues de pages =============

func TestRecordPageViewCountsPages(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-pages"))
	require.NotNil(t, session)

	tracker.RecordPageView(session, "http://example.com/home", "/home")
	tracker.RecordPageView(session, "http://example.com/about", "/about")
	tracker.RecordPageView(session, "http://example.com/contact", "/contact")

	var fresh VisitorSession
	require.NoError(t, db.Where("session_id = ?", "tok-pages").First(&fresh).Error)
	assert.Equal(t, uint(3), fresh.PageCount)

	var views int64
	db.Model(&PageView{}).Where("visitor_session_id = ?", session.ID).Count(&views)
	assert.Equal(t, int64(3), views)
}

func TestRecordPageViewReconciliation(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-reconcile"))
	require.NotNil(t, session)

	tracker.RecordPageView(session, "http://example.com/home", "/home")

	// Vieillir la première vue de 10 secondes avant la suivante
	var first PageView
	require.NoError(t, db.Where("visitor_session_id = ?", session.ID).First(&first).Error)
	require.NoError(t, db.Model(&first).UpdateColumn("timestamp", time.Now().Add(-10*time.Second)).Error)

	tracker.RecordPageView(session, "http://example.com/about", "/about")

	require.NoError(t, db.First(&first, first.ID).Error)
	assert.GreaterOrEqual(t, first.TimeSpent, 10*time.Second)
	assert.Less(t, first.TimeSpent, 15*time.Second)
	// La première vue était la seule de la session au moment de la
	// réconciliation, elle porte le drapeau rebond
	assert.True(t, first.IsBounce)

	// La dernière vue reste non réconciliée
	var last PageView
	require.NoError(t, db.Where("visitor_session_id = ?", session.ID).Order("timestamp DESC").First(&last).Error)
	assert.Equal(t, time.Duration(0), last.TimeSpent)
	assert.False(t, last.IsBounce)
}

func TestRecordPageViewNoBounceAfterSecondPage(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-nobounce"))
	require.NotNil(t, session)

	tracker.RecordPageView(session, "http://example.com/home", "/home")
	tracker.RecordPageView(session, "http://example.com/about", "/about")
	tracker.RecordPageView(session, "http://example.com/contact", "/contact")

	// Seule la toute première vue peut porter le drapeau rebond
	var bounced int64
	db.Model(&PageView{}).Where("visitor_session_id = ? AND is_bounce = ?", session.ID, true).Count(&bounced)
	assert.Equal(t, int64(1), bounced)
}

func TestRecordPageViewNilSession(t *testing.T) {
	tracker, db := newTestTracker(t)

	// Ne doit ni paniquer ni écrire quoi que ce soit
	tracker.RecordPageView(nil, "http://example.com/home", "/home")

	var views int64
	db.Model(&PageView{}).Count(&views)
	assert.Equal(t, int64(0), views)
}

func TestRecordPageViewConcurrent(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-concurrent"))
	require.NotNil(t, session)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tracker.RecordPageView(session, fmt.Sprintf("http://example.com/p%d", n), "/p")
		}(i)
	}
	wg.Wait()

	var views int64
	db.Model(&PageView{}).Where("visitor_session_id = ?", session.ID).Count(&views)
	assert.Equal(t, int64(10), views)
}

// ============= Pays =============

func TestVisitCountryIncrements(t *testing.T) {
	tracker, db := newTestTracker(t)

	geo := &kzgeo.GeoInfo{
		CountryCode: "FR",
		CountryName: "France",
		FlagEmoji:   "🇫🇷",
	}

	first, err := tracker.visitCountry(geo)
	require.NoError(t, err)
	second, err := tracker.visitCountry(geo)
	require.NoError(t, err)
	_, err = tracker.visitCountry(&kzgeo.GeoInfo{CountryCode: "BE", CountryName: "Belgique", FlagEmoji: "🇧🇪"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	var country Country
	require.NoError(t, db.Where("code = ?", "FR").First(&country).Error)
	assert.Equal(t, "France", country.Name)
	assert.Equal(t, uint(2), country.Visits)
	require.NotNil(t, country.LastVisit)

	var other Country
	require.NoError(t, db.Where("code = ?", "BE").First(&other).Error)
	assert.Equal(t, uint(1), other.Visits)

	var count int64
	db.Model(&Country{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestCountryAvgTimeSpent(t *testing.T) {
	country := Country{Visits: 4, TotalTimeSpent: 20 * time.Second}
	assert.Equal(t, 5*time.Second, country.AvgTimeSpent())

	empty := Country{}
	assert.Equal(t, time.Duration(0), empty.AvgTimeSpent())
}

// ============= Fin de session =============

func TestEndSession(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-end"))
	require.NotNil(t, session)

	// Vieillir le début de session pour obtenir une durée mesurable
	backdated := time.Now().Add(-30 * time.Second)
	require.NoError(t, db.Model(session).UpdateColumn("start_time", backdated).Error)
	session.StartTime = backdated

	require.NoError(t, tracker.EndSession(session))

	var fresh VisitorSession
	require.NoError(t, db.Where("session_id = ?", "tok-end").First(&fresh).Error)
	assert.False(t, fresh.IsActive)
	require.NotNil(t, fresh.EndTime)
	assert.GreaterOrEqual(t, fresh.TotalTimeSpent, 30*time.Second)
}

func TestEndSessionCreditsCountry(t *testing.T) {
	tracker, db := newTestTracker(t)

	country, err := tracker.visitCountry(&kzgeo.GeoInfo{CountryCode: "DE", CountryName: "Germany", FlagEmoji: "🇩🇪"})
	require.NoError(t, err)

	session := &VisitorSession{
		SessionID: "tok-credit",
		IPAddress: "203.0.113.20",
		CountryID: &country.ID,
		StartTime: time.Now().Add(-time.Minute),
		IsActive:  true,
		PageCount: 1,
	}
	require.NoError(t, db.Create(session).Error)

	require.NoError(t, tracker.EndSession(session))

	var fresh Country
	require.NoError(t, db.First(&fresh, country.ID).Error)
	assert.GreaterOrEqual(t, fresh.TotalTimeSpent, time.Minute)
}

// ============= Temps réel =============

func TestUpsertRealtime(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-rt"))
	require.NotNil(t, session)

	tracker.UpsertRealtime(session, "http://example.com/home")
	tracker.UpsertRealtime(session, "http://example.com/about")

	var visitors []RealTimeVisitor
	require.NoError(t, db.Where("visitor_session_id = ?", session.ID).Find(&visitors).Error)
	require.Len(t, visitors, 1)
	assert.Equal(t, "http://example.com/about", visitors[0].CurrentPage)
	assert.True(t, visitors[0].IsOnline())
}

func TestSessionAssociationsPreload(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-assoc"))
	require.NotNil(t, session)
	tracker.RecordPageView(session, "http://example.com/home", "/home")
	tracker.RecordPageView(session, "http://example.com/about", "/about")
	tracker.UpsertRealtime(session, "http://example.com/about")

	// Les relations se résolvent sur la clé primaire, pas sur le jeton
	var loaded VisitorSession
	require.NoError(t, db.Preload("PageViews").Preload("Realtime").
		Where("session_id = ?", "tok-assoc").First(&loaded).Error)

	assert.Len(t, loaded.PageViews, 2)
	require.NotNil(t, loaded.Realtime)
	assert.Equal(t, "http://example.com/about", loaded.Realtime.CurrentPage)

	var visitor RealTimeVisitor
	require.NoError(t, db.Preload("Session").First(&visitor).Error)
	require.NotNil(t, visitor.Session)
	assert.Equal(t, "tok-assoc", visitor.Session.SessionID)
}

func TestRealTimeVisitorIsOnline(t *testing.T) {
	online := RealTimeVisitor{LastActivity: time.Now().Add(-299 * time.Second)}
	assert.True(t, online.IsOnline())

	// Exactement 5 minutes: hors ligne
	offline := RealTimeVisitor{LastActivity: time.Now().Add(-OnlineWindow)}
	assert.False(t, offline.IsOnline())
}

func TestTouchRefreshesActivity(t *testing.T) {
	tracker, db := newTestTracker(t)

	session := tracker.FindOrCreateSession(newSignals("tok-touch"))
	require.NotNil(t, session)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(session).UpdateColumn("updated_at", stale).Error)

	tracker.Touch(session)

	var fresh VisitorSession
	require.NoError(t, db.Where("session_id = ?", "tok-touch").First(&fresh).Error)
	assert.True(t, fresh.UpdatedAt.After(stale.Add(30*time.Minute)))
}

// ============= Parcours complet =============

func TestVisitorWorkflow(t *testing.T) {
	tracker, db := newTestTracker(t)

	// Arrivée sur /home
	session := tracker.FindOrCreateSession(newSignals("tok-workflow"))
	require.NotNil(t, session)
	tracker.RecordPageView(session, "http://example.com/home", "/home")
	tracker.UpsertRealtime(session, "http://example.com/home")

	// Navigation vers /about 10 secondes plus tard
	var first PageView
	require.NoError(t, db.Where("visitor_session_id = ?", session.ID).First(&first).Error)
	require.NoError(t, db.Model(&first).UpdateColumn("timestamp", time.Now().Add(-10*time.Second)).Error)

	session = tracker.FindOrCreateSession(newSignals("tok-workflow"))
	require.NotNil(t, session)
	tracker.RecordPageView(session, "http://example.com/about", "/about")
	tracker.UpsertRealtime(session, "http://example.com/about")

	// Fin de session
	require.NoError(t, tracker.EndSession(session))

	var fresh VisitorSession
	require.NoError(t, db.Where("session_id = ?", "tok-workflow").First(&fresh).Error)
	assert.Equal(t, uint(2), fresh.PageCount)
	assert.False(t, fresh.IsActive)

	require.NoError(t, db.First(&first, first.ID).Error)
	assert.GreaterOrEqual(t, first.TimeSpent, 10*time.Second)
}
