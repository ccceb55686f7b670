// Package geoip resolves peer endpoint addresses to ISO country codes
// using a MaxMind MMDB database, loaded from a local file or a URL and
// optionally refreshed in the background.
package geoip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang/v2"
)

// countryRecord is a minimal struct for fast MMDB decoding.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Resolver holds one country MMDB database with thread-safe reload.
// A nil Resolver is valid and resolves everything to "".
type Resolver struct {
	source  string // local path or URL
	refresh time.Duration
	logger  *slog.Logger
	isURL   bool

	mu     sync.RWMutex
	reader *maxminddb.Reader
}

// Open loads the database from a file path or http(s) URL. refresh > 0
// enables periodic reloads once StartRefresh is called.
func Open(source string, refresh time.Duration, logger *slog.Logger) (*Resolver, error) {
	r := &Resolver{
		source:  source,
		refresh: refresh,
		logger:  logger,
		isURL:   strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) load() error {
	if r.isURL {
		return r.loadFromURL()
	}
	return r.loadFromFile()
}

func (r *Resolver) loadFromFile() error {
	reader, err := maxminddb.Open(r.source)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", r.source, err)
	}
	r.setReader(reader)
	r.logger.Info("geoip database loaded", "source", r.source, "type", reader.Metadata.DatabaseType)
	return nil
}

func (r *Resolver) loadFromURL() error {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.source, nil)
	if err != nil {
		return fmt.Errorf("geoip: request %s: %w", r.source, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("geoip: download %s: %w", r.source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geoip: download %s: HTTP %d", r.source, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("geoip: read %s: %w", r.source, err)
	}

	// Write to a temp file so maxminddb can mmap it.
	tmp, err := os.CreateTemp("", "geoip-*.mmdb")
	if err != nil {
		return fmt.Errorf("geoip: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("geoip: write temp file: %w", err)
	}
	tmp.Close()

	reader, err := maxminddb.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("geoip: open downloaded db: %w", err)
	}
	r.setReader(reader)
	// The reader holds a reference to the mmap; the file can go.
	os.Remove(tmpPath)

	r.logger.Info("geoip database downloaded", "source", r.source, "type", reader.Metadata.DatabaseType)
	return nil
}

func (r *Resolver) setReader(reader *maxminddb.Reader) {
	r.mu.Lock()
	old := r.reader
	r.reader = reader
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Country returns the ISO country code for a peer endpoint of the form
// "host:port" or a bare IP, or "" when unknown.
func (r *Resolver) Country(endpoint string) string {
	if r == nil || endpoint == "" {
		return ""
	}
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var rec countryRecord
	if err := r.reader.Lookup(addr).Decode(&rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

// StartRefresh reloads the database on the configured interval until
// ctx is cancelled. No-op when refresh is disabled.
func (r *Resolver) StartRefresh(ctx context.Context) {
	if r == nil || r.refresh <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.load(); err != nil {
					r.logger.Error("geoip reload failed", "error", err)
				}
			}
		}
	}()
}

// Close releases the mmap held by the database.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}
