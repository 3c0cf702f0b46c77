package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"twin-gateway/internal/consumer"
	"twin-gateway/internal/models"
	"twin-gateway/internal/repository"
)

type StatusSource interface {
	Health(ctx context.Context) models.Health
	SystemStatus(ctx context.Context) models.SystemStatus
}

type Ingestor interface {
	Ingest(ctx context.Context, ev models.TelemetryEvent) []models.AlertEvent
}

type TelemetryReader interface {
	ListByAsset(ctx context.Context, assetID string, filter repository.TelemetryFilter) ([]repository.TelemetryRecord, error)
}

type LastSeenReader interface {
	Get(ctx context.Context, assetID string) (time.Time, error)
}

type AlertReader interface {
	Recent(ctx context.Context, n int64) ([]models.AlertEvent, error)
}

type CommandPublisher interface {
	PublishCommand(ctx context.Context, assetID string, command map[string]any) (string, error)
}

// Deps are the handler's collaborators. Nil readers make their endpoints
// answer 503.
type Deps struct {
	Status    StatusSource
	Ingestor  Ingestor
	Telemetry TelemetryReader
	LastSeen  LastSeenReader
	Alerts    AlertReader
	Commands  CommandPublisher
}

// Handler serves the REST endpoints.
type Handler struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger, now: time.Now}
}

// Health GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Status.Health(r.Context()))
}

// SystemStatus GET /api/v1/system/status
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Status.SystemStatus(r.Context())))
}

type ingestResult struct {
	AssetID string              `json:"asset_id"`
	Alerts  []models.AlertEvent `json:"alerts"`
}

// IngestTelemetry POST /api/v1/telemetry
func (h *Handler) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r, maxBodyBytes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read body"))
		return
	}
	ev, err := models.DecodeTelemetry(body, "", h.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	alerts := h.deps.Ingestor.Ingest(r.Context(), ev)
	if alerts == nil {
		alerts = []models.AlertEvent{}
	}
	writeJSON(w, http.StatusAccepted, Ok(ingestResult{AssetID: ev.AssetID, Alerts: alerts}))
}

// RecentAlerts GET /api/v1/alerts?limit=
func (h *Handler) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Alerts == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("alert stream not configured"))
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	alerts, err := h.deps.Alerts.Recent(r.Context(), int64(limit))
	if err != nil {
		h.logger.Error("Failed to read recent alerts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to read alerts"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}

// Assets dispatches /api/v1/assets/{id}/{telemetry|telemetry/export|last-seen|commands}.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/assets/")
	assetID, action, ok := strings.Cut(rest, "/")
	if !ok || assetID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case action == "telemetry" && r.Method == http.MethodGet:
		h.telemetryHistory(w, r, assetID)
	case action == "telemetry/export" && r.Method == http.MethodGet:
		h.exportTelemetry(w, r, assetID)
	case action == "last-seen" && r.Method == http.MethodGet:
		h.lastSeen(w, r, assetID)
	case action == "commands" && r.Method == http.MethodPost:
		h.sendCommand(w, r, assetID)
	case action == "telemetry" || action == "telemetry/export" || action == "last-seen" || action == "commands":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) telemetryFilter(r *http.Request) (repository.TelemetryFilter, error) {
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start_time"))
	if err != nil {
		return repository.TelemetryFilter{}, fmt.Errorf("invalid start_time: %w", err)
	}
	end, err := parseTimeParam(q.Get("end_time"))
	if err != nil {
		return repository.TelemetryFilter{}, fmt.Errorf("invalid end_time: %w", err)
	}
	return repository.TelemetryFilter{
		Start: start,
		End:   end,
		Limit: parseInt(q.Get("limit"), repository.DefaultListLimit),
	}, nil
}

func (h *Handler) listTelemetry(w http.ResponseWriter, r *http.Request, assetID string) ([]repository.TelemetryRecord, bool) {
	if h.deps.Telemetry == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("telemetry store not configured"))
		return nil, false
	}
	filter, err := h.telemetryFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return nil, false
	}
	rows, err := h.deps.Telemetry.ListByAsset(r.Context(), assetID, filter)
	if err != nil {
		h.logger.Error("Failed to list telemetry", zap.String("asset_id", assetID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to read telemetry"))
		return nil, false
	}
	return rows, true
}

func (h *Handler) telemetryHistory(w http.ResponseWriter, r *http.Request, assetID string) {
	rows, ok := h.listTelemetry(w, r, assetID)
	if !ok {
		return
	}
	if rows == nil {
		rows = []repository.TelemetryRecord{}
	}
	writeJSON(w, http.StatusOK, Ok(rows))
}

func (h *Handler) exportTelemetry(w http.ResponseWriter, r *http.Request, assetID string) {
	rows, ok := h.listTelemetry(w, r, assetID)
	if !ok {
		return
	}
	data, err := GenerateTelemetryExport(assetID, rows)
	if err != nil {
		h.logger.Error("Failed to build telemetry export", zap.String("asset_id", assetID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to build export"))
		return
	}
	filename := fmt.Sprintf("telemetry_%s_%s.xlsx", assetID, h.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type lastSeenResult struct {
	AssetID  string `json:"asset_id"`
	LastSeen string `json:"last_seen"`
}

func (h *Handler) lastSeen(w http.ResponseWriter, r *http.Request, assetID string) {
	if h.deps.LastSeen == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("last-seen index not configured"))
		return
	}
	ts, err := h.deps.LastSeen.Get(r.Context(), assetID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, Fail("asset has not reported telemetry"))
		return
	}
	if err != nil {
		h.logger.Error("Failed to read last seen", zap.String("asset_id", assetID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to read last seen"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(lastSeenResult{AssetID: assetID, LastSeen: models.FormatTime(ts)}))
}

type commandResult struct {
	AssetID string `json:"asset_id"`
	Topic   string `json:"topic"`
	Status  string `json:"status"`
}

func (h *Handler) sendCommand(w http.ResponseWriter, r *http.Request, assetID string) {
	body, err := readBody(r, maxBodyBytes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read body"))
		return
	}
	var command map[string]any
	if err := jsonObject(body, &command); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	topic, err := h.deps.Commands.PublishCommand(r.Context(), assetID, command)
	if errors.Is(err, consumer.ErrNotConnected) {
		writeJSON(w, http.StatusServiceUnavailable, Fail("MQTT broker not connected"))
		return
	}
	if errors.Is(err, consumer.ErrInvalidAssetID) {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	if err != nil {
		h.logger.Error("Failed to publish command", zap.String("asset_id", assetID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, Fail("failed to publish command"))
		return
	}
	writeJSON(w, http.StatusAccepted, Ok(commandResult{AssetID: assetID, Topic: topic, Status: "sent"}))
}
