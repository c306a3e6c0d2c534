package session

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// GeoResolver maps an IP address to a country code.
type GeoResolver interface {
	Country(ip string) string
}

// MaxMindGeoResolver resolves countries from a MaxMind GeoLite2 database.
type MaxMindGeoResolver struct {
	reader *maxminddb.Reader
}

// NewMaxMindGeoResolver opens a MaxMind database file.
func NewMaxMindGeoResolver(dbPath string) (*MaxMindGeoResolver, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindGeoResolver{reader: reader}, nil
}

// Country returns the ISO country code for ip, or "" when unresolvable.
func (m *MaxMindGeoResolver) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := m.reader.Lookup(parsed, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close closes the GeoIP database.
func (m *MaxMindGeoResolver) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
