package kzanalytics

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SweepIdleSessions termine les sessions actives sans activité depuis le
// délai donné. Seule voie de terminaison: EndSession n'est pas idempotent,
// et le filtre is_active garantit une seule invocation par session.
func (t *Tracker) SweepIdleSessions(timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout)

	var sessions []VisitorSession
	err := t.db.Where("is_active = ? AND updated_at < ?", true, cutoff).Find(&sessions).Error
	if err != nil {
		return 0, err
	}

	ended := 0
	for i := range sessions {
		if err := t.EndSession(&sessions[i]); err != nil {
			log.Warn().Err(err).Str("token", sessions[i].SessionID).Msg("session sweep failed")
			continue
		}
		ended++
	}

	return ended, nil
}

// CleanupOldData supprime les données plus vieilles que la fenêtre de
// rétention: vues de pages, présence périmée, puis sessions terminées avec
// leurs lignes enfants. sqlite n'applique pas la cascade déclarée, les
// enfants sont donc supprimés explicitement par identifiant de session.
func (t *Tracker) CleanupOldData(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	result := t.db.Where("timestamp < ?", cutoff).Delete(&PageView{})
	if result.Error != nil {
		return result.Error
	}
	log.Info().Int64("pageviews", result.RowsAffected).Msg("old page views deleted")

	result = t.db.Where("last_activity < ?", cutoff).Delete(&RealTimeVisitor{})
	if result.Error != nil {
		return result.Error
	}
	log.Info().Int64("realtime", result.RowsAffected).Msg("stale realtime visitors deleted")

	var ids []uint
	err := t.db.Model(&VisitorSession{}).
		Where("is_active = ? AND start_time < ?", false, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := t.db.Where("visitor_session_id IN ?", ids).Delete(&PageView{}).Error; err != nil {
		return err
	}
	if err := t.db.Where("visitor_session_id IN ?", ids).Delete(&RealTimeVisitor{}).Error; err != nil {
		return err
	}

	result = t.db.Delete(&VisitorSession{}, ids)
	if result.Error != nil {
		return result.Error
	}
	log.Info().Int64("sessions", result.RowsAffected).Msg("old sessions deleted")

	return nil
}

// StartCrons lance le balayage d'inactivité (toutes les minutes) et le
// nettoyage de rétention (tous les jours à 2h).
func (t *Tracker) StartCrons(sessionTimeout, retention time.Duration) *cron.Cron {
	c := cron.New()

	c.AddFunc("* * * * *", func() {
		ended, err := t.SweepIdleSessions(sessionTimeout)
		if err != nil {
			log.Error().Err(err).Msg("session sweep failed")
			return
		}
		if ended > 0 {
			log.Info().Int("ended", ended).Msg("idle sessions ended")
		}
	})

	c.AddFunc("0 2 * * *", func() {
		if err := t.CleanupOldData(retention); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		}
	})

	c.Start()
	return c
}
