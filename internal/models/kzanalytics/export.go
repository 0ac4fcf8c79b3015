package kzanalytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// WriteCSV écrit le rapport d'export: ligne de titre, ligne vide, bloc de
// statistiques générales, puis le tableau des pays [nom, visites, temps
// moyen]. Les agrégats sont déterministes pour un même jeu de données.
func (r *Reports) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	today := time.Now().Format("2006-01-02")
	if err := writer.Write([]string{"Statistiques du site", "Date: " + today}); err != nil {
		return err
	}
	if err := writer.Write([]string{}); err != nil {
		return err
	}

	var totalSessions, totalPageViews int64
	if err := r.db.Model(&VisitorSession{}).Count(&totalSessions).Error; err != nil {
		return fmt.Errorf("error counting sessions: %w", err)
	}
	if err := r.db.Model(&PageView{}).Count(&totalPageViews).Error; err != nil {
		return fmt.Errorf("error counting page views: %w", err)
	}

	if err := writer.Write([]string{"Statistiques générales"}); err != nil {
		return err
	}
	if err := writer.Write([]string{"Sessions totales", fmt.Sprintf("%d", totalSessions)}); err != nil {
		return err
	}
	if err := writer.Write([]string{"Pages vues totales", fmt.Sprintf("%d", totalPageViews)}); err != nil {
		return err
	}
	if err := writer.Write([]string{"Taux de rebond", fmt.Sprintf("%.2f%%", r.BounceRate())}); err != nil {
		return err
	}
	if err := writer.Write([]string{}); err != nil {
		return err
	}

	if err := writer.Write([]string{"Pays par nombre de visites"}); err != nil {
		return err
	}
	if err := writer.Write([]string{"Pays", "Visites", "Temps moyen"}); err != nil {
		return err
	}

	geo, err := r.GeographicRollup(20)
	if err != nil {
		return err
	}
	for _, country := range geo.Countries {
		row := []string{
			country.Name,
			fmt.Sprintf("%d", country.Visits),
			country.AvgTime,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
