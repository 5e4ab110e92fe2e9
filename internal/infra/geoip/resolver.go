package geoip

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned when the resolver is not initialized.
var ErrUnavailable = errors.New("geoip resolver unavailable")

const defaultCacheSize = 4096

// Resolver maps client addresses onto ISO country codes using a MaxMind
// country database. Answers are cached per address; the cache is dropped
// wholesale when it fills.
type Resolver struct {
	reader *geoip2.Reader

	mu      sync.Mutex
	cache   map[netip.Addr]string
	maxSize int
}

// NewResolver opens the database at path. An empty path yields a nil
// resolver and no error.
func NewResolver(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &Resolver{
		reader:  reader,
		cache:   make(map[netip.Addr]string),
		maxSize: defaultCacheSize,
	}, nil
}

// CountryCode returns the upper-case country for ip. Addresses that cannot
// be routed publicly resolve to "" without consulting the database.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return "", ErrUnavailable
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	addr = addr.Unmap()
	if !isPublic(addr) {
		return "", nil
	}

	r.mu.Lock()
	code, ok := r.cache[addr]
	r.mu.Unlock()
	if ok {
		return code, nil
	}

	record, err := r.reader.Country(net.IP(addr.AsSlice()))
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	if record != nil {
		code = strings.ToUpper(record.Country.IsoCode)
	}

	r.mu.Lock()
	if len(r.cache) >= r.maxSize {
		r.cache = make(map[netip.Addr]string)
	}
	r.cache[addr] = code
	r.mu.Unlock()
	return code, nil
}

// Lookup returns CountryCode as a plain function, or nil when the resolver
// was never opened so callers can skip lookups entirely.
func (r *Resolver) Lookup() func(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.CountryCode
}

// Close closes the underlying database reader.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

func isPublic(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsUnspecified() &&
		!addr.IsMulticast()
}
