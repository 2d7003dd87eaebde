package services

import (
	"context"
	"strings"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/mileusna/useragent"
	"github.com/rs/zerolog/log"
)

// ActivityStore persists audit entries.
type ActivityStore interface {
	InsertActivityLog(ctx context.Context, entry *models.ActivityLogEntry) error
}

// ActivityLogger records auth events to the activity log.
//
// Record never fails from the caller's point of view: the write runs on a
// context detached from the request (so a client disconnect does not drop the
// entry) with its own timeout, and any error is logged and counted.
type ActivityLogger struct {
	store     ActivityStore
	timeout   time.Duration
	onFailure func()
}

// NewActivityLogger creates an activity logger. onFailure may be nil; main
// passes the metrics counter.
//
// Example:
//
//	activity := services.NewActivityLogger(pgDB, middleware.IncrementActivityLogFailures)
func NewActivityLogger(store ActivityStore, onFailure func()) *ActivityLogger {
	return &ActivityLogger{
		store:     store,
		timeout:   2 * time.Second,
		onFailure: onFailure,
	}
}

// Record appends an entry for userID (nil when no account is known).
// details may be nil. The device summary and request ID are added to details.
//
// Example:
//
//	a.Record(ctx, nil, models.ActionLoginFailed, map[string]interface{}{
//	    "email":  email,
//	    "reason": "user_not_found",
//	}, meta)
func (a *ActivityLogger) Record(ctx context.Context, userID *int64, action models.Action, details map[string]interface{}, meta models.RequestMeta) {
	enriched := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		enriched[k] = v
	}
	if meta.UserAgent != "" {
		enriched["device"] = ExtractDeviceInfo(meta.UserAgent)
	}
	if meta.RequestID != "" {
		enriched["request_id"] = meta.RequestID
	}

	entry := &models.ActivityLogEntry{
		UserID:    userID,
		Action:    action,
		Details:   enriched,
		IPAddress: orUnknown(meta.IPAddress),
		UserAgent: orUnknown(meta.UserAgent),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if err := a.store.InsertActivityLog(writeCtx, entry); err != nil {
		event := log.Error().Err(err).Str("action", string(action)).Str("request_id", meta.RequestID)
		if userID != nil {
			event = event.Int64("user_id", *userID)
		}
		event.Msg("Failed to record activity")

		if a.onFailure != nil {
			a.onFailure()
		}
	}
}

// ExtractDeviceInfo turns a User-Agent header into a short summary such as
// "Chrome 120.0 · Windows 10 · Desktop".
func ExtractDeviceInfo(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.Parse(userAgent)

	var parts []string
	if ua.Name != "" {
		browser := ua.Name
		if ua.Version != "" {
			browser += " " + ua.Version
		}
		parts = append(parts, browser)
	}
	if ua.OS != "" {
		os := ua.OS
		if ua.OSVersion != "" {
			os += " " + ua.OSVersion
		}
		parts = append(parts, os)
	}
	switch {
	case ua.Mobile:
		parts = append(parts, "Mobile")
	case ua.Tablet:
		parts = append(parts, "Tablet")
	case ua.Desktop:
		parts = append(parts, "Desktop")
	case ua.Bot:
		parts = append(parts, "Bot")
	}

	if len(parts) == 0 {
		if len(userAgent) > 100 {
			return userAgent[:100] + "..."
		}
		return userAgent
	}
	return strings.Join(parts, " · ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
