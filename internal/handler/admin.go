package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mir00r/subscriber-dbi/internal/dbi"
	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
	"github.com/mir00r/subscriber-dbi/internal/jsondb"
	"github.com/mir00r/subscriber-dbi/internal/middleware"
	"github.com/mir00r/subscriber-dbi/internal/store"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

const component = "admin_api"

// AdminHandler exposes backend selection, profile loading and subscriber
// queries over HTTP
type AdminHandler struct {
	registry *dbi.Registry
	profiles *jsondb.Backend
	logger   *logger.Logger
}

// NewAdminHandler creates a new admin handler. profiles may be nil when no
// document-backed backend is configured.
func NewAdminHandler(registry *dbi.Registry, profiles *jsondb.Backend, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		profiles: profiles,
		logger:   logger.OrNop(log).WithField("component", component),
	}
}

// InterfaceRequest selects a backend by name
type InterfaceRequest struct {
	Name string `json:"name"`
}

// InterfaceResponse describes the backend selection
type InterfaceResponse struct {
	Selected  string   `json:"selected"`
	Available []string `json:"available"`
}

// LoadRequest names a profile document to load for an APN
type LoadRequest struct {
	APN  string `json:"apn"`
	File string `json:"file"`
}

// LoadResponse reports a loaded APN
type LoadResponse struct {
	APN      string `json:"apn"`
	Profiles int    `json:"profiles"`
}

// SQNRequest sets a sequence number
type SQNRequest struct {
	SQN uint64 `json:"sqn"`
}

// IMEISVRequest sets an equipment identity
type IMEISVRequest struct {
	IMEISV string `json:"imeisv"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Code      dbierrors.ErrorCode    `json:"code"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

// GetInterfaceHandler handles GET /api/v1/interface
func (h *AdminHandler) GetInterfaceHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.interfaceResponse())
}

// SelectInterfaceHandler handles PUT /api/v1/interface
func (h *AdminHandler) SelectInterfaceHandler(w http.ResponseWriter, r *http.Request) {
	var req InterfaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.Select(req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.interfaceResponse())
}

// DeselectInterfaceHandler handles DELETE /api/v1/interface
func (h *AdminHandler) DeselectInterfaceHandler(w http.ResponseWriter, r *http.Request) {
	h.registry.Deselect()
	w.WriteHeader(http.StatusNoContent)
}

// TeardownHandler handles POST /api/v1/teardown
func (h *AdminHandler) TeardownHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Final(); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.WithField("subject", middleware.SubjectFromContext(r.Context())).Info("Selected backend torn down")
	w.WriteHeader(http.StatusNoContent)
}

// LoadAPNHandler handles POST /api/v1/apns
func (h *AdminHandler) LoadAPNHandler(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		h.writeError(w, r, dbierrors.NewError(dbierrors.ErrCodeNotSupported, component, "no profile backend configured"))
		return
	}

	var req LoadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.File == "" {
		h.writeError(w, r, dbierrors.NewError(dbierrors.ErrCodeInvalidArgument, component, "file is required"))
		return
	}

	if err := h.profiles.Load(r.Context(), req.File, req.APN); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, LoadResponse{
		APN:      req.APN,
		Profiles: h.profiles.Stats().Profiles[req.APN],
	})
}

// ListAPNsHandler handles GET /api/v1/apns
func (h *AdminHandler) ListAPNsHandler(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		writeJSON(w, http.StatusOK, store.Stats{Profiles: map[string]int{}})
		return
	}
	writeJSON(w, http.StatusOK, h.profiles.Stats())
}

// SessionHandler handles GET /api/v1/sessions
func (h *AdminHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	query, err := parseSessionQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := h.registry.SessionData(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// SubscriptionHandler handles GET /api/v1/subscribers/{supi}
func (h *AdminHandler) SubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	data, err := h.registry.SubscriptionData(r.Context(), mux.Vars(r)["supi"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// ImsHandler handles GET /api/v1/subscribers/{supi}/ims
func (h *AdminHandler) ImsHandler(w http.ResponseWriter, r *http.Request) {
	data, err := h.registry.ImsData(r.Context(), mux.Vars(r)["supi"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// MsisdnHandler handles GET /api/v1/msisdn/{id}
func (h *AdminHandler) MsisdnHandler(w http.ResponseWriter, r *http.Request) {
	data, err := h.registry.MsisdnData(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// UpdateSQNHandler handles PUT /api/v1/subscribers/{supi}/sqn
func (h *AdminHandler) UpdateSQNHandler(w http.ResponseWriter, r *http.Request) {
	var req SQNRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.UpdateSQN(r.Context(), mux.Vars(r)["supi"], req.SQN); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IncrementSQNHandler handles POST /api/v1/subscribers/{supi}/sqn/increment
func (h *AdminHandler) IncrementSQNHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.IncrementSQN(r.Context(), mux.Vars(r)["supi"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateIMEISVHandler handles PUT /api/v1/subscribers/{supi}/imeisv
func (h *AdminHandler) UpdateIMEISVHandler(w http.ResponseWriter, r *http.Request) {
	var req IMEISVRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.UpdateIMEISV(r.Context(), mux.Vars(r)["supi"], req.IMEISV); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) interfaceResponse() InterfaceResponse {
	resp := InterfaceResponse{Available: h.registry.Available()}
	if b, ok := h.registry.Selected(); ok {
		resp.Selected = b.Name()
	}
	return resp
}

// parseSessionQuery reads supi, dnn, charging_characteristic, sst and sd.
// A missing charging characteristic asks for the default profile.
func parseSessionQuery(r *http.Request) (domain.SessionQuery, error) {
	q := r.URL.Query()
	query := domain.SessionQuery{
		SUPI:                   q.Get("supi"),
		DNN:                    q.Get("dnn"),
		ChargingCharacteristic: domain.DefaultChargingCharacteristic,
	}
	if query.DNN == "" {
		return query, dbierrors.NewError(dbierrors.ErrCodeInvalidArgument, component, "dnn is required")
	}

	if v := q.Get("charging_characteristic"); v != "" {
		cc, err := strconv.ParseInt(v, 10, 32)
		if err != nil || cc < int64(domain.DefaultChargingCharacteristic) || cc > 65535 {
			return query, dbierrors.Newf(dbierrors.ErrCodeInvalidArgument, component,
				"charging_characteristic must be an integer in -1..65535, got %q", v)
		}
		query.ChargingCharacteristic = int32(cc)
	}

	if v := q.Get("sst"); v != "" {
		sst, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return query, dbierrors.Newf(dbierrors.ErrCodeInvalidArgument, component, "invalid sst %q", v)
		}
		query.SNssai = &domain.SNssai{SST: uint8(sst)}
		if sd := q.Get("sd"); sd != "" {
			n, err := strconv.ParseUint(sd, 16, 24)
			if err != nil {
				return query, dbierrors.Newf(dbierrors.ErrCodeInvalidArgument, component, "invalid sd %q", sd)
			}
			query.SNssai.SD = uint32(n)
		}
	}

	return query, nil
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, dbierrors.WrapError(err, dbierrors.ErrCodeInvalidArgument, component, "invalid JSON body"))
		return false
	}
	return true
}

// writeError writes a standardized error response
func (h *AdminHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	response := ErrorResponse{
		Code:      dbierrors.GetErrorCode(err),
		Message:   err.Error(),
		Timestamp: time.Now(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}
	var dbiErr *dbierrors.DBIError
	if errors.As(err, &dbiErr) {
		response.Message = dbiErr.Message
		response.Metadata = dbiErr.Metadata
	}

	code := dbierrors.GetHTTPStatusCode(err)
	writeJSON(w, code, response)

	entry := h.logger.WithFields(map[string]interface{}{
		"error":      err.Error(),
		"code":       code,
		"request_id": response.RequestID,
	})
	if code >= http.StatusInternalServerError {
		entry.Error("API error response")
	} else {
		entry.Debug("API error response")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
