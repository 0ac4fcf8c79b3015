package kzgeo

import (
	"net/netip"
	"strings"

	"github.com/oschwald/geoip2-golang/v2"
	"github.com/rs/zerolog/log"
)

// GeoInfo regroupe les attributs géographiques résolus pour une IP.
// Les coordonnées sont nil quand la base ne les fournit pas.
type GeoInfo struct {
	CountryCode string
	CountryName string
	FlagEmoji   string
	Region      string
	City        string
	Latitude    *float64
	Longitude   *float64
	Timezone    string
}

// Resolver encapsule la base GeoIP2. Lecture seule après ouverture,
// partagé entre toutes les requêtes, fermé explicitement au shutdown.
type Resolver struct {
	reader *geoip2.Reader
}

// NewResolver ouvre la base GeoIP2. Une base absente n'est pas une erreur
// fatale: le resolver dégrade alors toutes les résolutions en "inconnu".
func NewResolver(path string) *Resolver {
	if path == "" {
		return &Resolver{}
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("GeoIP database unavailable, geo resolution disabled")
		return &Resolver{}
	}

	return &Resolver{reader: reader}
}

func (r *Resolver) Close() {
	if r.reader != nil {
		r.reader.Close()
	}
}

// Resolve retourne les informations géographiques d'une IP, ou ok=false
// si la base est absente ou l'IP irrésoluble. Jamais d'erreur propagée.
func (r *Resolver) Resolve(ip string) (*GeoInfo, bool) {
	if r.reader == nil {
		return nil, false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, false
	}

	record, err := r.reader.City(addr)
	if err != nil {
		return nil, false
	}

	return fromRecord(record)
}

// fromRecord projette un enregistrement City en GeoInfo, ou ok=false si
// le pays est inconnu. Les coordonnées sont optionnelles dans la base.
func fromRecord(record *geoip2.City) (*GeoInfo, bool) {
	code := record.Country.ISOCode
	if code == "" {
		return nil, false
	}

	info := &GeoInfo{
		CountryCode: code,
		CountryName: record.Country.Names.English,
		FlagEmoji:   FlagEmoji(code),
		City:        record.City.Names.English,
		Timezone:    record.Location.TimeZone,
	}
	if record.Location.HasCoordinates() {
		lat, lon := *record.Location.Latitude, *record.Location.Longitude
		info.Latitude = &lat
		info.Longitude = &lon
	}

	// Subdivision la plus spécifique (la dernière de la liste)
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[len(record.Subdivisions)-1].Names.English
	}

	return info, true
}

// FlagEmoji convertit un code pays ISO en émoji drapeau
func FlagEmoji(countryCode string) string {
	if len(countryCode) != 2 {
		return "🌐"
	}

	code := strings.ToUpper(countryCode)
	const base = 0x1F1E6 - 'A'

	var sb strings.Builder
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return "🌐"
		}
		sb.WriteRune(rune(base + c))
	}
	return sb.String()
}
