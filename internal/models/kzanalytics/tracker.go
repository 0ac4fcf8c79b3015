package kzanalytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mohamedN2018/konoz/internal/models/kzgeo"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tracker possède le cycle de vie des sessions, l'enregistrement des vues
// et la présence temps réel. Toutes ses opérations sont best-effort: un
// échec de tracking ne doit jamais bloquer la requête appelante.
type Tracker struct {
	db    *gorm.DB
	redis *redis.Client
	geo   *kzgeo.Resolver

	// Sérialise l'enregistrement des vues par jeton de session, sinon deux
	// requêtes concurrentes du même onglet peuvent réconcilier deux fois
	// la même vue
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// RequestSignals porte les signaux bruts d'une requête entrante
type RequestSignals struct {
	Token       string
	IPAddress   string
	UserAgent   string
	UserID      *uint
	Referrer    string
	LandingPage string
}

func NewTracker(db *gorm.DB, redisClient *redis.Client, geo *kzgeo.Resolver) *Tracker {
	return &Tracker{
		db:    db,
		redis: redisClient,
		geo:   geo,
		locks: make(map[string]*sync.Mutex),
	}
}

// Migrate crée les tables du module analytics
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Country{}, &VisitorSession{}, &PageView{}, &RealTimeVisitor{})
}

// FindOrCreateSession cherche une session active par jeton, sinon en crée
// une à partir des signaux résolus. Retourne nil si le jeton est absent ou
// si la persistance échoue: l'absence de session est un état valide.
func (t *Tracker) FindOrCreateSession(sig RequestSignals) *VisitorSession {
	if sig.Token == "" {
		return nil
	}

	var session VisitorSession
	err := t.db.Where("session_id = ? AND is_active = ?", sig.Token, true).First(&session).Error
	if err == nil {
		// Session existante: device et géo sont figés à la création
		return &session
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().Err(err).Str("token", sig.Token).Msg("session lookup failed")
		return nil
	}

	device := kzgeo.ParseUserAgent(sig.UserAgent)
	geo, resolved := t.geo.Resolve(sig.IPAddress)

	session = VisitorSession{
		SessionID:      sig.Token,
		UserID:         sig.UserID,
		IPAddress:      sig.IPAddress,
		UserAgent:      sig.UserAgent,
		DeviceType:     device.DeviceType,
		Browser:        device.Browser,
		BrowserVersion: device.BrowserVersion,
		OS:             device.OS,
		OSVersion:      device.OSVersion,
		Referrer:       sig.Referrer,
		LandingPage:    sig.LandingPage,
		StartTime:      time.Now(),
		IsActive:       true,
		PageCount:      1,
		Metadata: datatypes.JSONMap{
			"is_bot": device.IsBot,
		},
	}

	if resolved {
		if country, err := t.visitCountry(geo); err == nil {
			session.CountryID = &country.ID
		}
		session.Region = geo.Region
		session.City = geo.City
		session.Latitude = geo.Latitude
		session.Longitude = geo.Longitude
		session.Metadata["timezone"] = geo.Timezone
	}

	if err := t.db.Create(&session).Error; err != nil {
		log.Warn().Err(err).Str("token", sig.Token).Msg("session creation failed")
		return nil
	}

	return &session
}

// visitCountry crée le pays au premier passage puis incrémente ses
// compteurs. Incréments atomiques côté stockage: plusieurs sessions
// concurrentes créditent le même pays.
func (t *Tracker) visitCountry(geo *kzgeo.GeoInfo) (*Country, error) {
	var country Country
	err := t.db.Where(Country{Code: geo.CountryCode}).
		Attrs(Country{Name: geo.CountryName, FlagEmoji: geo.FlagEmoji}).
		FirstOrCreate(&country).Error
	if err != nil {
		return nil, err
	}

	err = t.db.Model(&country).Updates(map[string]interface{}{
		"visits":     gorm.Expr("visits + 1"),
		"last_visit": time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}

	return &country, nil
}

// RecordPageView réconcilie la vue précédente puis insère la nouvelle.
// Seules les navigations GET doivent arriver ici, le filtrage des assets
// et requêtes AJAX est fait en amont par le middleware.
func (t *Tracker) RecordPageView(session *VisitorSession, url, title string) {
	if session == nil {
		return
	}

	lock := t.lockFor(session.SessionID)
	lock.Lock()
	defer lock.Unlock()

	reconciled := t.reconcilePrevious(session)

	view := PageView{
		VisitorSessionID: session.ID,
		URL:              url,
		Title:            title,
		Timestamp:        time.Now(),
	}
	if err := t.db.Create(&view).Error; err != nil {
		log.Warn().Err(err).Str("token", session.SessionID).Msg("page view insert failed")
		return
	}

	// La vue d'atterrissage est déjà comptée par page_count=1 à la
	// création de la session
	if reconciled {
		if err := t.db.Model(session).Update("page_count", gorm.Expr("page_count + 1")).Error; err == nil {
			session.PageCount++
		}
	}

	t.bumpDailyCounters(session.SessionID)
}

// reconcilePrevious fixe le temps passé sur la dernière vue non réconciliée
// et son drapeau rebond. Retourne vrai si une vue précédente existait.
// La dernière vue d'une session n'est jamais réconciliée: c'est une limite
// assumée, pas un défaut à corriger par extrapolation.
func (t *Tracker) reconcilePrevious(session *VisitorSession) bool {
	var last PageView
	err := t.db.Where("visitor_session_id = ?", session.ID).
		Order("timestamp DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("token", session.SessionID).Msg("page view lookup failed")
		return false
	}

	if last.TimeSpent == 0 {
		updates := map[string]interface{}{
			"time_spent": time.Since(last.Timestamp),
		}
		// Rebond: la vue était la seule jamais vue dans cette session
		if session.PageCount == 1 {
			updates["is_bounce"] = true
		}
		if err := t.db.Model(&last).Updates(updates).Error; err != nil {
			log.Warn().Err(err).Str("token", session.SessionID).Msg("page view reconciliation failed")
		}
	}

	return true
}

// EndSession fige la session: end_time, is_active=false, durée totale.
// Non idempotent, un second appel écrase end_time; l'appelant (le balayage
// d'inactivité) ne cible que les sessions actives.
func (t *Tracker) EndSession(session *VisitorSession) error {
	now := time.Now()
	duration := now.Sub(session.StartTime)

	err := t.db.Model(session).Updates(map[string]interface{}{
		"end_time":         now,
		"is_active":        false,
		"total_time_spent": duration,
	}).Error
	if err != nil {
		return err
	}

	session.EndTime = &now
	session.IsActive = false
	session.TotalTimeSpent = duration

	// Crédite le temps passé au pays de la session
	if session.CountryID != nil {
		err := t.db.Model(&Country{}).
			Where("id = ?", *session.CountryID).
			Update("total_time_spent", gorm.Expr("total_time_spent + ?", int64(duration))).Error
		if err != nil {
			log.Warn().Err(err).Str("token", session.SessionID).Msg("country time credit failed")
		}
	}

	t.releaseLock(session.SessionID)
	return nil
}

// Touch rafraîchit uniquement l'horodatage d'activité de la session
func (t *Tracker) Touch(session *VisitorSession) {
	if session == nil {
		return
	}
	if err := t.db.Model(session).Update("updated_at", time.Now()).Error; err != nil {
		log.Warn().Err(err).Str("token", session.SessionID).Msg("session touch failed")
	}
}

// UpsertRealtime crée ou met à jour la page courante du visiteur.
// last_activity est rafraîchi automatiquement à chaque écriture.
func (t *Tracker) UpsertRealtime(session *VisitorSession, currentURL string) {
	if session == nil {
		return
	}

	var visitor RealTimeVisitor
	err := t.db.Where("visitor_session_id = ?", session.ID).First(&visitor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		visitor = RealTimeVisitor{
			VisitorSessionID: session.ID,
			CurrentPage:      currentURL,
		}
		if err := t.db.Create(&visitor).Error; err != nil {
			log.Warn().Err(err).Str("token", session.SessionID).Msg("realtime visitor insert failed")
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("token", session.SessionID).Msg("realtime visitor lookup failed")
		return
	}

	visitor.CurrentPage = currentURL
	if err := t.db.Save(&visitor).Error; err != nil {
		log.Warn().Err(err).Str("token", session.SessionID).Msg("realtime visitor update failed")
	}
}

// bumpDailyCounters met à jour les compteurs Redis du jour pour un accès
// rapide, avec un cache de 31 jours. Redis est optionnel.
func (t *Tracker) bumpDailyCounters(token string) {
	if t.redis == nil {
		return
	}

	ctx := context.Background()
	today := time.Now().Format("2006-01-02")

	dailyKey := "analytics:daily:" + today
	t.redis.HIncrBy(ctx, dailyKey, "page_views", 1)
	t.redis.Expire(ctx, dailyKey, 31*24*time.Hour)

	visitorKey := "analytics:visitors:" + today
	t.redis.SAdd(ctx, visitorKey, token)
	t.redis.Expire(ctx, visitorKey, 31*24*time.Hour)
}

func (t *Tracker) lockFor(token string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[token]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[token] = lock
	}
	return lock
}

func (t *Tracker) releaseLock(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, token)
}
