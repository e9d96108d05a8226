package dashboard

import (
	"log"
	"time"

	"github.com/mschirtzinger/tally/internal/turso/bootstrap"
	"github.com/mschirtzinger/tally/internal/turso/daemon"
	"github.com/mschirtzinger/tally/internal/turso/migrate"
	"github.com/mschirtzinger/tally/internal/turso/syncconfig"
)

// DBInitializedData describes how startup ended
type DBInitializedData struct {
	Mode       string `json:"mode"`
	CloudSync  bool   `json:"cloud_sync"`
	SyncURL    string `json:"sync_url,omitempty"`
	Recovered  bool   `json:"recovered"`
	LegacyPath string `json:"legacy_path,omitempty"`
	Fallback   string `json:"fallback,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// SyncData describes one sync attempt
type SyncData struct {
	Trigger    string `json:"trigger"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ConfigChangedData describes a change to sync_config.json
type ConfigChangedData struct {
	Action          string `json:"action"` // written, removed
	Enabled         bool   `json:"enabled"`
	URL             string `json:"url,omitempty"`
	RestartRequired bool   `json:"restart_required"`
}

// LegacyMigratedData contains row counts copied from a legacy backup
type LegacyMigratedData struct {
	Categories         int    `json:"categories"`
	Transactions       int    `json:"transactions"`
	Installments       int    `json:"installments"`
	InstallmentDetails int    `json:"installment_details"`
	Summary            string `json:"summary"`
}

// Handler turns lifecycle events into dashboard messages.
// It implements daemon.Events and app.Events.
type Handler struct {
	server *Server
	logger *log.Logger
}

var _ daemon.Events = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnDBInitialized handles the end of startup
func (h *Handler) OnDBInitialized(result *bootstrap.Result) {
	data := DBInitializedData{
		Mode:       string(result.Mode),
		CloudSync:  result.CloudSync,
		SyncURL:    result.SyncURL,
		Recovered:  result.Recovered,
		DurationMS: result.Elapsed.Milliseconds(),
	}
	if result.Quarantine != nil {
		data.LegacyPath = result.Quarantine.LegacyPath
	}
	if result.FallbackReason != nil {
		data.Fallback = result.FallbackReason.Error()
	}

	h.server.BroadcastData(MessageTypeDBInitialized, data)
}

// OnSyncComplete handles a successful sync
func (h *Handler) OnSyncComplete(trigger daemon.Trigger, duration time.Duration) {
	h.server.BroadcastData(MessageTypeSyncComplete, SyncData{
		Trigger:    string(trigger),
		DurationMS: duration.Milliseconds(),
	})
}

// OnSyncFailed handles a failed sync
func (h *Handler) OnSyncFailed(trigger daemon.Trigger, err error) {
	h.server.BroadcastData(MessageTypeSyncFailed, SyncData{
		Trigger: string(trigger),
		Error:   err.Error(),
	})
}

// OnConfigChanged handles edits to sync_config.json. The token is never
// forwarded.
func (h *Handler) OnConfigChanged(ev syncconfig.Event) {
	data := ConfigChangedData{Action: "written", RestartRequired: true}
	if ev.Op == syncconfig.OpRemove {
		data.Action = "removed"
	}
	if ev.Config != nil {
		data.Enabled = ev.Config.Enabled()
		data.URL = ev.Config.URL
	}

	h.logger.Printf("Sync config %s (enabled=%v)", data.Action, data.Enabled)
	h.server.BroadcastData(MessageTypeConfigChanged, data)
}

// OnLegacyMigrated handles a completed legacy merge
func (h *Handler) OnLegacyMigrated(result *migrate.Result) {
	h.server.BroadcastData(MessageTypeLegacyMigrated, LegacyMigratedData{
		Categories:         result.Categories,
		Transactions:       result.Transactions,
		Installments:       result.Installments,
		InstallmentDetails: result.InstallmentDetails,
		Summary:            result.String(),
	})
}
