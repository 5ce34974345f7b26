package cache

import (
	"fmt"
	"time"

	"github.com/blang/semver/v4"
)

const (
	// DefaultFetchTTL is how often the registry is re-queried.
	DefaultFetchTTL = 24 * time.Hour
	// DefaultNotifyCooldown is how often the user is re-reminded of a
	// known update without re-querying the network.
	DefaultNotifyCooldown = 7 * 24 * time.Hour

	// updateRecordTTL keeps records around well past the fetch cadence
	// so the independent notification cooldown can consult them.
	updateRecordTTL = 30 * 24 * time.Hour

	// UpdateNamespace is the cache document holding version-check state.
	UpdateNamespace = "update-check"
)

// UpdateRecord tracks the registry's latest known version for one
// installed package version. Fetch cadence and notification cadence are
// independent timestamps (epoch-ms).
type UpdateRecord struct {
	PackageName           string `json:"packageName"`
	InstalledVersion      string `json:"installedVersion"`
	LatestKnownVersion    string `json:"latestKnownVersion"`
	TimestampFetch        int64  `json:"timestampFetch"`
	TimestampNotification int64  `json:"timestampNotification"`
}

// Checker is the update-check specialization of the TTL store.
//
// The cache key is always package@installedVersion, never the package
// name alone, so upgrading invalidates inherited stale data.
type Checker struct {
	store          *Store
	fetchTTL       time.Duration
	notifyCooldown time.Duration

	now func() time.Time
}

// NewChecker creates an update-check cache over the given store. Zero
// durations get the defaults above.
func NewChecker(store *Store, fetchTTL, notifyCooldown time.Duration) *Checker {
	if fetchTTL == 0 {
		fetchTTL = DefaultFetchTTL
	}
	if notifyCooldown == 0 {
		notifyCooldown = DefaultNotifyCooldown
	}
	return &Checker{
		store:          store,
		fetchTTL:       fetchTTL,
		notifyCooldown: notifyCooldown,
		now:            time.Now,
	}
}

func updateKey(pkg, installedVersion string) string {
	return fmt.Sprintf("%s@%s", pkg, installedVersion)
}

// ShouldCheck reports whether the registry should be queried for a
// newer version of pkg.
func (c *Checker) ShouldCheck(pkg, installedVersion string) bool {
	var record UpdateRecord
	if !c.store.GetJSON(updateKey(pkg, installedVersion), &record) {
		return true
	}
	return c.now().UnixMilli()-record.TimestampFetch > c.fetchTTL.Milliseconds()
}

// RecordLatest stores the registry's answer, refreshing the fetch
// timestamp and preserving the notification timestamp.
func (c *Checker) RecordLatest(pkg, installedVersion, latest string) error {
	key := updateKey(pkg, installedVersion)

	var record UpdateRecord
	c.store.GetJSON(key, &record)

	record.PackageName = pkg
	record.InstalledVersion = installedVersion
	record.LatestKnownVersion = latest
	record.TimestampFetch = c.now().UnixMilli()

	return c.store.Set(key, record, updateRecordTTL)
}

// Latest returns the cached newest known version, ok=false when nothing
// usable is cached.
func (c *Checker) Latest(pkg, installedVersion string) (string, bool) {
	var record UpdateRecord
	if !c.store.GetJSON(updateKey(pkg, installedVersion), &record) {
		return "", false
	}
	if record.LatestKnownVersion == "" {
		return "", false
	}
	return record.LatestKnownVersion, true
}

// UpdateAvailable reports whether the cached latest version is newer
// than the installed one. Unparseable versions count as no update.
func (c *Checker) UpdateAvailable(pkg, installedVersion string) bool {
	latest, ok := c.Latest(pkg, installedVersion)
	if !ok {
		return false
	}
	return IsNewer(installedVersion, latest)
}

// ShouldNotify reports whether the user should be re-reminded of a
// known newer version. It never triggers a network call.
func (c *Checker) ShouldNotify(pkg, installedVersion string) bool {
	var record UpdateRecord
	if !c.store.GetJSON(updateKey(pkg, installedVersion), &record) {
		return false
	}
	if !IsNewer(installedVersion, record.LatestKnownVersion) {
		return false
	}
	return c.now().UnixMilli()-record.TimestampNotification > c.notifyCooldown.Milliseconds()
}

// RecordNotified refreshes the notification timestamp, leaving the
// fetch timestamp untouched.
func (c *Checker) RecordNotified(pkg, installedVersion string) error {
	key := updateKey(pkg, installedVersion)

	var record UpdateRecord
	if !c.store.GetJSON(key, &record) {
		return nil
	}

	record.TimestampNotification = c.now().UnixMilli()
	return c.store.Set(key, record, updateRecordTTL)
}

// IsNewer reports whether candidate is a strictly newer semantic
// version than installed.
func IsNewer(installed, candidate string) bool {
	if candidate == "" {
		return false
	}
	iv, err := semver.ParseTolerant(installed)
	if err != nil {
		return false
	}
	cv, err := semver.ParseTolerant(candidate)
	if err != nil {
		return false
	}
	return cv.GT(iv)
}
