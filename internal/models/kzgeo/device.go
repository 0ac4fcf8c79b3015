package kzgeo

import (
	"github.com/mileusna/useragent"
)

// DeviceInfo regroupe les attributs extraits du User-Agent
type DeviceInfo struct {
	DeviceType     string
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	IsBot          bool
}

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// ParseUserAgent classe un User-Agent brut. Un UA vide ou inconnu
// donne un poste desktop sans navigateur, jamais une erreur.
func ParseUserAgent(raw string) DeviceInfo {
	ua := useragent.Parse(raw)

	deviceType := DeviceDesktop
	switch {
	case ua.Mobile:
		deviceType = DeviceMobile
	case ua.Tablet:
		deviceType = DeviceTablet
	}

	return DeviceInfo{
		DeviceType:     deviceType,
		Browser:        ua.Name,
		BrowserVersion: ua.Version,
		OS:             ua.OS,
		OSVersion:      ua.OSVersion,
		IsBot:          ua.Bot,
	}
}
