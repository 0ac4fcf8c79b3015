package kzmiddleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mohamedN2018/konoz/internal/models/kzanalytics"
)

// VisitorSessionKey est la clé contexte sous laquelle la session trackée
// est exposée aux handlers
const VisitorSessionKey = "visitor_session"

const visitorTokenKey = "_visitor_id"

// AnalyticsMiddleware est l'étage de pipeline qui transforme chaque requête
// entrante en signaux de tracking. Tout y est best-effort: un échec de
// tracking ne bloque jamais la réponse.
type AnalyticsMiddleware struct {
	Tracker      *kzanalytics.Tracker
	SkipPrefixes []string
}

func NewAnalyticsMiddleware(tracker *kzanalytics.Tracker, skipPrefixes []string) *AnalyticsMiddleware {
	return &AnalyticsMiddleware{
		Tracker:      tracker,
		SkipPrefixes: skipPrefixes,
	}
}

func (am *AnalyticsMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Ne pas tracker les assets statiques ni les endpoints analytics
		path := c.Request.URL.Path
		for _, prefix := range am.SkipPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		currentURL := am.absoluteURL(c)

		session := am.Tracker.FindOrCreateSession(kzanalytics.RequestSignals{
			Token:       am.visitorToken(c),
			IPAddress:   am.getClientIP(c),
			UserAgent:   c.Request.UserAgent(),
			Referrer:    c.Request.Referer(),
			LandingPage: currentURL,
		})

		// Seules les navigations comptent comme vues de page; les requêtes
		// AJAX et assets sont déjà filtrés par les préfixes
		if c.Request.Method == http.MethodGet {
			am.Tracker.RecordPageView(session, currentURL, path)
		}

		am.Tracker.UpsertRealtime(session, currentURL)

		if session != nil {
			c.Set(VisitorSessionKey, session)
		}

		c.Next()

		// Rafraîchir l'activité après la réponse
		am.Tracker.Touch(session)
	}
}

// visitorToken retourne le jeton stable du navigateur, créé au premier
// passage et porté par la session cookie.
func (am *AnalyticsMiddleware) visitorToken(c *gin.Context) string {
	sess := sessions.Default(c)

	if v, ok := sess.Get(visitorTokenKey).(string); ok && v != "" {
		return v
	}

	token := uuid.NewString()
	sess.Set(visitorTokenKey, token)
	if err := sess.Save(); err != nil {
		// Cookies désactivés: hash IP + User-Agent pour garder une
		// certaine cohérence entre les requêtes du même navigateur
		hash := sha256.Sum256([]byte(fmt.Sprintf("%s%s", am.getClientIP(c), c.Request.UserAgent())))
		return hex.EncodeToString(hash[:])[:32]
	}

	return token
}

// getClientIP récupère l'IP réelle du client. gin n'honore les en-têtes
// X-Forwarded-For et X-Real-IP que lorsque la requête provient d'un proxy
// de confiance configuré via SetTrustedProxies ou TrustedPlatform.
func (am *AnalyticsMiddleware) getClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// absoluteURL reconstruit l'URL absolue de la requête
func (am *AnalyticsMiddleware) absoluteURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.RequestURI
}
