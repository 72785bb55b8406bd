package client

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

const jarFileVersion = 2

// persistedCookie is a stored cookie with the URL it was set from, so it can
// be replayed into a fresh jar with the same scope.
type persistedCookie struct {
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Scheme   string        `json:"scheme"`
	Host     string        `json:"host"`
	Domain   string        `json:"domain"`
	HostOnly bool          `json:"host_only"`
	Path     string        `json:"path"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"http_only,omitempty"`
	SameSite http.SameSite `json:"same_site,omitempty"`
	Expires  *time.Time    `json:"expires,omitempty"`
}

func (p persistedCookie) key() string {
	return p.Domain + ";" + p.Path + ";" + p.Name
}

func (p persistedCookie) expired(now time.Time) bool {
	return p.Expires != nil && !p.Expires.After(now)
}

func (p persistedCookie) cookie() (*url.URL, *http.Cookie) {
	c := &http.Cookie{
		Name:     p.Name,
		Value:    p.Value,
		Path:     p.Path,
		Secure:   p.Secure,
		HttpOnly: p.HttpOnly,
		SameSite: p.SameSite,
	}
	if !p.HostOnly {
		c.Domain = p.Domain
	}
	if p.Expires != nil {
		c.Expires = *p.Expires
	}
	return &url.URL{Scheme: p.Scheme, Host: p.Host, Path: p.Path}, c
}

type jarFile struct {
	Version int               `json:"version"`
	Entries []persistedCookie `json:"entries"`
}

// PersistentJar is a cookie jar shared by every process of a profile.
// The file is the source of truth: it is re-read whenever another process
// rewrites it, and rewritten after every Set-Cookie.
type PersistentJar struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	jar     *cookiejar.Jar
	entries map[string]persistedCookie
	modTime time.Time
}

var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar creates a jar. An empty path keeps cookies in memory only.
func NewPersistentJar(path string) (*PersistentJar, error) {
	jar, err := newCookieJar()
	if err != nil {
		return nil, err
	}

	j := &PersistentJar{
		path:    path,
		now:     time.Now,
		jar:     jar,
		entries: make(map[string]persistedCookie),
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create cookie directory: %w", err)
		}
		j.mu.Lock()
		j.reloadLocked()
		j.mu.Unlock()
	}

	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.reloadLocked()
	j.jar.SetCookies(u, cookies)

	now := j.now()
	for _, c := range cookies {
		p, keep := j.record(u, c, now)
		if keep {
			j.entries[p.key()] = p
		} else {
			delete(j.entries, p.key())
		}
	}
	j.saveLocked()
}

// Cookies implements http.CookieJar.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.reloadLocked()
	return j.jar.Cookies(u)
}

// record converts a Set-Cookie received from u into its stored form. keep is
// false when the cookie deletes an existing one.
func (j *PersistentJar) record(u *url.URL, c *http.Cookie, now time.Time) (persistedCookie, bool) {
	p := persistedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
	}

	if c.Domain == "" {
		p.Domain = canonicalHost(u)
		p.HostOnly = true
	} else {
		p.Domain = strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	}
	if p.Path == "" || p.Path[0] != '/' {
		p.Path = defaultPath(u.Path)
	}

	switch {
	case c.MaxAge < 0:
		return p, false
	case c.MaxAge > 0:
		exp := now.Add(time.Duration(c.MaxAge) * time.Second).UTC()
		p.Expires = &exp
	case !c.Expires.IsZero():
		if !c.Expires.After(now) {
			return p, false
		}
		exp := c.Expires.UTC()
		p.Expires = &exp
	}
	return p, true
}

func (j *PersistentJar) reloadLocked() {
	if j.path == "" {
		return
	}

	info, err := os.Stat(j.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", j.path).Msg("failed to stat cookie file")
		}
		return
	}
	if info.ModTime().Equal(j.modTime) {
		return
	}

	data, err := os.ReadFile(j.path)
	if err != nil {
		log.Warn().Err(err).Str("path", j.path).Msg("failed to read cookie file")
		return
	}

	var file jarFile
	if err := json.Unmarshal(data, &file); err != nil || file.Version != jarFileVersion {
		log.Warn().Err(err).Int("version", file.Version).Str("path", j.path).Msg("ignoring unreadable cookie file")
		j.modTime = info.ModTime()
		return
	}

	jar, err := newCookieJar()
	if err != nil {
		return
	}

	now := j.now()
	entries := make(map[string]persistedCookie, len(file.Entries))
	for _, p := range file.Entries {
		if p.expired(now) {
			continue
		}
		u, c := p.cookie()
		jar.SetCookies(u, []*http.Cookie{c})
		entries[p.key()] = p
	}

	j.jar = jar
	j.entries = entries
	j.modTime = info.ModTime()
}

func (j *PersistentJar) saveLocked() {
	if j.path == "" {
		return
	}

	now := j.now()
	file := jarFile{Version: jarFileVersion, Entries: make([]persistedCookie, 0, len(j.entries))}
	for _, k := range slices.Sorted(maps.Keys(j.entries)) {
		p := j.entries[k]
		if p.expired(now) {
			delete(j.entries, k)
			continue
		}
		file.Entries = append(file.Entries, p)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal cookie file")
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), "cookies-*.tmp")
	if err != nil {
		log.Warn().Err(err).Msg("failed to create cookie temp file")
		return
	}
	tempPath := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tempPath)
		log.Warn().Err(werr).AnErr("close", cerr).Msg("failed to write cookie file")
		return
	}
	if err := os.Chmod(tempPath, 0600); err != nil {
		os.Remove(tempPath)
		log.Warn().Err(err).Msg("failed to chmod cookie file")
		return
	}
	if err := os.Rename(tempPath, j.path); err != nil {
		os.Remove(tempPath)
		log.Warn().Err(err).Msg("failed to save cookie file")
		return
	}

	if info, err := os.Stat(j.path); err == nil {
		j.modTime = info.ModTime()
	}
}

func newCookieJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

func canonicalHost(u *url.URL) string {
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// defaultPath is the RFC 6265 default-path of a request path.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
