package kzmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/mohamedN2018/konoz/internal/models/kzanalytics"
	"github.com/mohamedN2018/konoz/internal/models/kzgeo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ============= Setup et Teardown =============

func setupTestDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Une seule connexion: chaque connexion sqlite :memory: verrait une base vide
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, kzanalytics.Migrate(testDB))

	return testDB
}

func setupTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)

	tracker := kzanalytics.NewTracker(db, nil, kzgeo.NewResolver(""))
	am := NewAnalyticsMiddleware(tracker, []string{"/static/", "/api/analytics/"})

	r := gin.New()
	store := cookie.NewStore([]byte("test-secret"))
	r.Use(sessions.Sessions("test-session", store))
	r.Use(am.Middleware())

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/about", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/static/app.css", func(c *gin.Context) { c.String(http.StatusOK, "css") })
	r.POST("/comment", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/whoami", func(c *gin.Context) {
		session, ok := c.Get(VisitorSessionKey)
		if !ok {
			c.String(http.StatusNotFound, "none")
			return
		}
		c.String(http.StatusOK, session.(*kzanalytics.VisitorSession).SessionID)
	})

	return r, db
}

func doRequest(r *gin.Engine, method, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	r.ServeHTTP(w, req)
	return w
}

// ============= Tests =============

func TestMiddlewareTracksNavigation(t *testing.T) {
	r, db := setupTestRouter(t)

	w := doRequest(r, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var sessions, views, realtime int64
	db.Model(&kzanalytics.VisitorSession{}).Count(&sessions)
	db.Model(&kzanalytics.PageView{}).Count(&views)
	db.Model(&kzanalytics.RealTimeVisitor{}).Count(&realtime)

	assert.Equal(t, int64(1), sessions)
	assert.Equal(t, int64(1), views)
	assert.Equal(t, int64(1), realtime)

	// Le jeton est posé dans le cookie de session
	assert.NotEmpty(t, w.Result().Cookies())
}

func TestMiddlewareReusesSessionAcrossRequests(t *testing.T) {
	r, db := setupTestRouter(t)

	first := doRequest(r, "GET", "/", nil)
	second := doRequest(r, "GET", "/about", first.Result().Cookies())
	assert.Equal(t, http.StatusOK, second.Code)

	var sessions int64
	db.Model(&kzanalytics.VisitorSession{}).Count(&sessions)
	assert.Equal(t, int64(1), sessions)

	var session kzanalytics.VisitorSession
	require.NoError(t, db.First(&session).Error)
	assert.Equal(t, uint(2), session.PageCount)

	var views int64
	db.Model(&kzanalytics.PageView{}).Where("visitor_session_id = ?", session.ID).Count(&views)
	assert.Equal(t, int64(2), views)
}

func TestMiddlewareSkipsPrefixes(t *testing.T) {
	r, db := setupTestRouter(t)

	w := doRequest(r, "GET", "/static/app.css", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var sessions int64
	db.Model(&kzanalytics.VisitorSession{}).Count(&sessions)
	assert.Equal(t, int64(0), sessions)
}

func TestMiddlewareSkipsNonGetPageViews(t *testing.T) {
	r, db := setupTestRouter(t)

	w := doRequest(r, "POST", "/comment", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// La session existe mais aucune vue de page n'est comptée
	var sessions, views int64
	db.Model(&kzanalytics.VisitorSession{}).Count(&sessions)
	db.Model(&kzanalytics.PageView{}).Count(&views)
	assert.Equal(t, int64(1), sessions)
	assert.Equal(t, int64(0), views)
}

func TestMiddlewareExposesSession(t *testing.T) {
	r, db := setupTestRouter(t)

	w := doRequest(r, "GET", "/whoami", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var session kzanalytics.VisitorSession
	require.NoError(t, db.First(&session).Error)
	assert.Equal(t, session.SessionID, w.Body.String())
}

func TestMiddlewareLandingPage(t *testing.T) {
	r, db := setupTestRouter(t)

	doRequest(r, "GET", "/about", nil)

	var session kzanalytics.VisitorSession
	require.NoError(t, db.First(&session).Error)
	assert.Contains(t, session.LandingPage, "/about")
	assert.Equal(t, kzgeo.DeviceDesktop, session.DeviceType)
	assert.Equal(t, "Chrome", session.Browser)
}

func TestGetClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	am := &AnalyticsMiddleware{}

	makeContext := func(headers map[string]string) (*gin.Context, *gin.Engine) {
		c, r := gin.CreateTestContext(httptest.NewRecorder())
		c.Request, _ = http.NewRequest("GET", "/", nil)
		c.Request.RemoteAddr = "192.0.2.1:1234"
		for k, v := range headers {
			c.Request.Header.Set(k, v)
		}
		return c, r
	}

	c, _ := makeContext(map[string]string{"X-Real-IP": "203.0.113.7"})
	assert.Equal(t, "203.0.113.7", am.getClientIP(c))

	// X-Forwarded-For: la première IP de la chaîne
	c, _ = makeContext(map[string]string{"X-Forwarded-For": "203.0.113.8, 10.0.0.1"})
	assert.Equal(t, "203.0.113.8", am.getClientIP(c))

	c, _ = makeContext(nil)
	assert.Equal(t, "192.0.2.1", am.getClientIP(c))

	// Sans proxy de confiance, les en-têtes ne sont pas honorés
	c, r := makeContext(map[string]string{"X-Forwarded-For": "203.0.113.9"})
	require.NoError(t, r.SetTrustedProxies(nil))
	assert.Equal(t, "192.0.2.1", am.getClientIP(c))
}
