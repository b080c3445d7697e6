package portalsdk

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

const conflictFlagKeyPrefix = "ghflag:"

// skewBuffer absorbs clock skew between contexts when comparing a registry
// write against the local session start.
const skewBuffer = time.Second

// ConflictResolver watches the presence registry for another context taking
// over a session of the same user type. Detection never logs the user out
// directly: it warns, flags the conflict, and only forces logout after a
// grace period if the conflict is still present and the flag was not cleared
// (the user may have chosen to keep this context).
//
// Conflicts are checked on storage mutation events, on visibility
// transitions, and on a periodic scan. A heartbeat keeps this context's
// registry claim and the server-side session row fresh.
type ConflictResolver struct {
	Store  *SessionStore
	Logger *slog.Logger

	// UserTypes to watch. Defaults to admin and attendee.
	UserTypes []string

	// OnWarn is called (on its own goroutine) when a conflict is first
	// detected, before any forced logout.
	OnWarn func(userType, source string)

	// OnForcedLogout is called after local session state has been cleared.
	OnForcedLogout func(userType string)

	// Heartbeat, when set, refreshes the server-side session row. Called on
	// the heartbeat interval for every user type that still holds a token.
	Heartbeat func(ctx context.Context, sessionID, userType string)

	// GracePeriod between detection and the forced-logout re-check.
	// Defaults to 10s.
	GracePeriod time.Duration

	// ScanInterval for the periodic conflict sweep. Defaults to 60s.
	ScanInterval time.Duration

	// HeartbeatInterval for registry and server refresh. Defaults to 30s.
	HeartbeatInterval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func (c *ConflictResolver) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConflictResolver) userTypes() []string {
	if len(c.UserTypes) > 0 {
		return c.UserTypes
	}
	return []string{"admin", "attendee"}
}

func (c *ConflictResolver) grace() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return 10 * time.Second
}

func (c *ConflictResolver) scanInterval() time.Duration {
	if c.ScanInterval > 0 {
		return c.ScanInterval
	}
	return time.Minute
}

func (c *ConflictResolver) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return 30 * time.Second
}

// IsConflicted reports whether another context holds the registry claim for
// the user type's token and claimed it after this context started. The skew
// buffer keeps near-simultaneous starts from flagging each other.
func (c *ConflictResolver) IsConflicted(userType string) bool {
	rec, ok := c.Store.Registry().Lookup(userType, tokenKey)
	if !ok {
		return false
	}
	if rec.SessionID == c.Store.SessionID() {
		return false
	}
	return rec.LastUpdated.After(c.Store.startedAt.Add(skewBuffer))
}

// OnConflict records a detected conflict: warn, set the flag, schedule the
// grace re-check. Safe to call repeatedly; a live flag means a re-check is
// already pending.
func (c *ConflictResolver) OnConflict(userType, source string) {
	if c.flagLive(userType) {
		return
	}

	c.logger().Warn("session conflict detected",
		"user_type", userType, "source", source)
	if c.OnWarn != nil {
		go c.OnWarn(userType, source)
	}

	c.setFlag(userType)

	time.AfterFunc(c.grace(), func() {
		if c.IsConflicted(userType) && c.flagLive(userType) {
			c.forceLogout(userType)
		}
		c.ClearFlag(userType)
	})
}

// NotifyVisible is called by the UI layer when this context becomes visible
// again; a conflict that happened while hidden is handled immediately.
func (c *ConflictResolver) NotifyVisible() {
	for _, ut := range c.userTypes() {
		if c.IsConflicted(ut) {
			c.OnConflict(ut, "visibility")
		}
	}
}

// ClearFlag drops the conflict flag. The UI calls this when the user elects
// to keep the current context; the pending re-check then stands down.
func (c *ConflictResolver) ClearFlag(userType string) {
	c.Store.storage.Delete(conflictFlagKey(userType))
}

// Start begins watching storage events and runs the scan and heartbeat
// tickers until Stop is called.
func (c *ConflictResolver) Start() {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	events, cancel := c.Store.storage.Subscribe()

	go func() {
		defer close(c.doneCh)
		defer cancel()

		scan := time.NewTicker(c.scanInterval())
		defer scan.Stop()
		heartbeat := time.NewTicker(c.heartbeatInterval())
		defer heartbeat.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.handleEvent(ev)
			case <-scan.C:
				for _, ut := range c.userTypes() {
					if c.IsConflicted(ut) {
						c.OnConflict(ut, "scan")
					}
				}
			case <-heartbeat.C:
				c.beat()
			}
		}
	}()
}

// Stop halts the watcher and waits for it to exit.
func (c *ConflictResolver) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.stopCh = nil
}

// handleEvent reacts to registry writes made by other contexts.
func (c *ConflictResolver) handleEvent(ev Event) {
	if ev.Deleted || !strings.HasPrefix(ev.Key, registryKeyPrefix) {
		return
	}

	var rec RegistryRecord
	if err := json.Unmarshal([]byte(ev.Value), &rec); err != nil || rec.Record != recordTagRegistry {
		return
	}
	if rec.SessionID == c.Store.SessionID() || rec.Key != tokenKey {
		return
	}
	if c.IsConflicted(rec.UserType) {
		c.OnConflict(rec.UserType, "storage_event")
	}
}

// beat refreshes this context's registry claim and the server session row
// for every user type still holding a token.
func (c *ConflictResolver) beat() {
	for _, ut := range c.userTypes() {
		if c.Store.GetToken(ut) == "" {
			continue
		}
		c.Store.Registry().Update(ut, tokenKey)

		if c.Heartbeat != nil {
			ctx, cancelHB := context.WithTimeout(context.Background(), 5*time.Second)
			c.Heartbeat(ctx, c.Store.SessionID(), ut)
			cancelHB()
		}
	}
}

func (c *ConflictResolver) forceLogout(userType string) {
	c.logger().Warn("forcing logout after unresolved session conflict",
		"user_type", userType)

	c.Store.Clear(userType)
	if c.OnForcedLogout != nil {
		go c.OnForcedLogout(userType)
	}
}

func (c *ConflictResolver) setFlag(userType string) {
	flag := conflictFlag{
		Record:   recordTagFlag,
		UserType: userType,
		SetAt:    c.Store.now(),
	}
	raw, err := json.Marshal(flag)
	if err != nil {
		return
	}
	_ = c.Store.storage.Set(conflictFlagKey(userType), string(raw))
}

func (c *ConflictResolver) flagLive(userType string) bool {
	raw, ok := c.Store.storage.Get(conflictFlagKey(userType))
	if !ok {
		return false
	}

	var flag conflictFlag
	if err := json.Unmarshal([]byte(raw), &flag); err != nil || flag.Record != recordTagFlag {
		c.Store.storage.Delete(conflictFlagKey(userType))
		return false
	}
	return c.Store.now().Sub(flag.SetAt) <= ConflictFlagTTL
}

func conflictFlagKey(userType string) string {
	return conflictFlagKeyPrefix + userType
}
