package kzanalytics

import (
	"time"

	"gorm.io/datatypes"
)

// Country cumule les visites par pays. Créé paresseusement à la première
// résolution géographique, jamais supprimé.
type Country struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Code           string         `gorm:"uniqueIndex;size:10;not null" json:"code"`
	Name           string         `gorm:"size:100" json:"name"`
	FlagEmoji      string         `gorm:"size:10" json:"flag_emoji"`
	Visits         uint           `gorm:"not null;default:0" json:"visits"`
	TotalTimeSpent time.Duration  `gorm:"not null;default:0" json:"total_time_spent"`
	LastVisit      *time.Time     `json:"last_visit"`
}

// AvgTimeSpent retourne le temps moyen passé par visite
func (c *Country) AvgTimeSpent() time.Duration {
	if c.Visits == 0 {
		return 0
	}
	return time.Duration(int64(c.TotalTimeSpent) / int64(c.Visits))
}

// VisitorSession représente une visite continue d'un navigateur,
// identifiée par un jeton stable et bornée par start/end.
type VisitorSession struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	UserID    *uint  `gorm:"index" json:"user_id"`

	IPAddress      string `gorm:"size:45;not null" json:"ip_address"`
	UserAgent      string `gorm:"type:text" json:"user_agent"`
	DeviceType     string `gorm:"size:50;index" json:"device_type"`
	Browser        string `gorm:"size:100" json:"browser"`
	BrowserVersion string `gorm:"size:50" json:"browser_version"`
	OS             string `gorm:"size:100" json:"os"`
	OSVersion      string `gorm:"size:50" json:"os_version"`

	// Attributs géographiques, figés à la création de la session
	CountryID *uint    `gorm:"index" json:"country_id"`
	Country   *Country `json:"country,omitempty"`
	Region    string   `gorm:"size:100" json:"region"`
	City      string   `gorm:"size:100" json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	Referrer    string `gorm:"size:500" json:"referrer"`
	LandingPage string `gorm:"size:500" json:"landing_page"`

	StartTime time.Time  `gorm:"index;not null" json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	IsActive  bool       `gorm:"index;not null;default:true" json:"is_active"`

	PageCount      uint          `gorm:"not null;default:1" json:"page_count"`
	TotalTimeSpent time.Duration `gorm:"not null;default:0" json:"total_time_spent"`

	Metadata datatypes.JSONMap `json:"metadata"`

	// Rafraîchi à chaque sauvegarde, sert au balayage d'inactivité
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`

	PageViews []PageView       `gorm:"foreignKey:VisitorSessionID;constraint:OnDelete:CASCADE" json:"pageviews,omitempty"`
	Realtime  *RealTimeVisitor `gorm:"foreignKey:VisitorSessionID;constraint:OnDelete:CASCADE" json:"realtime,omitempty"`
}

// Duration retourne la durée de la session, glissante tant qu'elle est active
func (s *VisitorSession) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// PageView est une vue de page immuable après réconciliation.
// time_spent reste à zéro jusqu'à l'arrivée de la vue suivante de la
// même session; la dernière vue d'une session n'est jamais réconciliée.
type PageView struct {
	ID uint64 `gorm:"primaryKey" json:"id"`

	// Clé étrangère vers visitor_sessions.id, distincte du jeton session_id
	VisitorSessionID uint `gorm:"index;not null" json:"session_id"`

	URL         string        `gorm:"size:500;not null" json:"url"`
	Title       string        `gorm:"size:500" json:"title"`
	TimeSpent   time.Duration `gorm:"not null;default:0" json:"time_spent"`
	Timestamp   time.Time     `gorm:"index;not null" json:"timestamp"`
	ScrollDepth uint          `gorm:"not null;default:0" json:"scroll_depth"`
	IsBounce    bool          `gorm:"not null;default:false" json:"is_bounce"`
}

// RealTimeVisitor reflète la page courante d'une session, un enregistrement
// par session. Les enregistrements périmés sortent simplement du prédicat
// "en ligne", le nettoyage relève du cron de rétention.
type RealTimeVisitor struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	VisitorSessionID uint            `gorm:"uniqueIndex;not null" json:"session_id"`
	Session          *VisitorSession `gorm:"foreignKey:VisitorSessionID" json:"session,omitempty"`
	CurrentPage      string          `gorm:"size:500" json:"current_page"`
	TimeOnPage       time.Duration   `gorm:"not null;default:0" json:"time_on_page"`
	LastActivity     time.Time       `gorm:"autoUpdateTime;index" json:"last_activity"`
}

// OnlineWindow définit la fenêtre de présence "en ligne"
const OnlineWindow = 300 * time.Second

// NewVisitorWindow définit le seuil "nouveau visiteur" pour le temps réel
const NewVisitorWindow = 60 * time.Second

// IsOnline retourne vrai si la dernière activité est strictement
// dans la fenêtre de présence
func (rv *RealTimeVisitor) IsOnline() bool {
	return time.Since(rv.LastActivity) < OnlineWindow
}

func (Country) TableName() string {
	return "countries"
}

func (VisitorSession) TableName() string {
	return "visitor_sessions"
}

func (PageView) TableName() string {
	return "page_views"
}

func (RealTimeVisitor) TableName() string {
	return "realtime_visitors"
}
