package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"eventclub/pkg/apiclient"
	"eventclub/pkg/eventclub"
	"eventclub/pkg/health"
	"eventclub/pkg/logger"
	"eventclub/pkg/model"
	"eventclub/pkg/nfcurl"
	"eventclub/pkg/reqlog"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service        *eventclub.Service
	monitor        *health.Monitor
	logger         *logger.Logger
	failoverTarget string
	infoPage       []byte
}

func NewHandler(service *eventclub.Service, monitor *health.Monitor, log *logger.Logger, failoverTarget string, infoPage []byte) *Handler {
	return &Handler{
		service:        service,
		monitor:        monitor,
		logger:         log,
		failoverTarget: failoverTarget,
		infoPage:       infoPage,
	}
}

type errorBody struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// writeJSON is a no-op once a response has started, so nothing can follow
// a failover answer.
func writeJSON(w http.ResponseWriter, status int, v any) {
	if alreadyWritten(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// writeError maps an accessor error onto the gateway response. Failovers
// have normally been answered by the request navigator already.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apiclient.IsFailover(err) {
		target := h.failoverTarget
		var fe *apiclient.FailoverError
		if errors.As(err, &fe) && fe.Target != "" {
			target = fe.Target
		}
		writeFailover(w, r, target)
		return
	}

	if alreadyWritten(w) {
		return
	}

	if errors.Is(err, eventclub.ErrLoginRejected) {
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Message:  strings.TrimPrefix(err.Error(), eventclub.ErrLoginRejected.Error()+": "),
			Category: string(reqlog.CategoryAuth),
			Hint:     reqlog.CategoryAuth.Hint(),
		})
		return
	}

	log := h.logger.WithRequestID(requestIDFrom(r.Context())).WithEndpoint(routePattern(r))

	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		log.Error("Unexpected accessor error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "internal server error"})
		return
	}

	if apiErr.Kind == apiclient.KindCanceled && errors.Is(r.Context().Err(), context.Canceled) {
		// The client went away; nobody is left to answer.
		return
	}

	status := http.StatusBadGateway
	message := apiErr.Error()
	if apiErr.Kind == apiclient.KindHTTP && apiErr.Status != 0 {
		status = apiErr.Status
		message = apiErr.Message
		if message == "" {
			message = reqlog.StatusDescription(status)
		}
	}

	category := apiErr.Category()
	if category == "" {
		category = reqlog.Classify(apiErr, apiErr.Status)
	}

	log.Info("Relaying upstream error",
		zap.Int("status", status),
		zap.String("category", string(category)))

	writeJSON(w, status, errorBody{
		Message:  message,
		Category: string(category),
		Hint:     category.Hint(),
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func respond[T any](h *Handler, w http.ResponseWriter, r *http.Request, res *eventclub.Result[T], err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Source != "" {
		w.Header().Set("X-Data-Source", string(res.Source))
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Message:  "invalid request body",
			Category: string(reqlog.CategoryClient),
			Hint:     reqlog.CategoryClient.Hint(),
		})
		return false
	}
	return true
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "identifier and password are required"})
		return
	}

	out, err := h.service.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// The session token stays in the gateway.
	out.Token = ""
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Logout(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"isAuthenticated": h.service.IsAuthenticated(),
	})
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CurrentUser(r.Context())
	respond(h, w, r, res, err)
}

func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.UserInfo(r.Context(), chi.URLParam(r, "userID"))
	respond(h, w, r, res, err)
}

func (h *Handler) UserCard(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.UserCard(r.Context(), chi.URLParam(r, "slug"))
	respond(h, w, r, res, err)
}

func (h *Handler) MyCard(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.MyCard(r.Context())
	respond(h, w, r, res, err)
}

func (h *Handler) UpdateMyCard(w http.ResponseWriter, r *http.Request) {
	var card model.User
	if !decodeBody(w, r, &card) {
		return
	}
	res, err := h.service.UpdateMyCard(r.Context(), card)
	respond(h, w, r, res, err)
}

func (h *Handler) ActivityDetail(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ActivityDetail(r.Context(), chi.URLParam(r, "eventID"))
	respond(h, w, r, res, err)
}

func (h *Handler) ActivityMatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ActivityMatch(r.Context(), chi.URLParam(r, "activityID"))
	respond(h, w, r, res, err)
}

func (h *Handler) MatchResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.MatchResults(r.Context())
	respond(h, w, r, res, err)
}

func (h *Handler) EventEnrollments(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.EventEnrollments(r.Context(), chi.URLParam(r, "eventID"))
	respond(h, w, r, res, err)
}

func (h *Handler) ClusterMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	res, err := h.service.ClusterMembers(r.Context(),
		chi.URLParam(r, "activityID"),
		chi.URLParam(r, "clusterID"),
		page, pageSize)
	respond(h, w, r, res, err)
}

func (h *Handler) NfcMatchData(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.NfcMatchData(r.Context(), chi.URLParam(r, "userID"))
	respond(h, w, r, res, err)
}

func (h *Handler) NfcMatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.NfcMatch(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "userID"))
	respond(h, w, r, res, err)
}

func (h *Handler) QrMatch(w http.ResponseWriter, r *http.Request) {
	var req model.QrMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.service.QrMatch(r.Context(), chi.URLParam(r, "eventID"), req.QrCode)
	respond(h, w, r, res, err)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req model.MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.service.SendMessage(r.Context(), req.UserID, req.Message)
	respond(h, w, r, res, err)
}

func (h *Handler) ExchangeContact(w http.ResponseWriter, r *http.Request) {
	var req model.ContactExchangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.service.ExchangeContact(r.Context(), req.UserID)
	respond(h, w, r, res, err)
}

func (h *Handler) GenerateNfcURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	u, err := nfcurl.Generate(nfcurl.Options{
		EventID:     q.Get("eventId"),
		UserID:      q.Get("userId"),
		Environment: nfcurl.Environment(q.Get("env")),
		BaseURL:     q.Get("baseUrl"),
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": u})
}

type batchRequest struct {
	EventID     string             `json:"eventId"`
	UserIDs     []string           `json:"userIds"`
	Environment nfcurl.Environment `json:"environment"`
}

func (h *Handler) GenerateNfcURLBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entries, err := nfcurl.GenerateBatch(req.EventID, req.UserIDs, req.Environment)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "urls": entries})
}

func (h *Handler) ParseNfcURL(w http.ResponseWriter, r *http.Request) {
	parsed := nfcurl.Parse(r.URL.Query().Get("url"))
	status := http.StatusOK
	if !parsed.Valid {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, parsed)
}

func (h *Handler) NfcURLGuide(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nfcurl.FormatGuide())
}

type healthBody struct {
	Healthy             bool   `json:"healthy"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	HeartbeatRunning    bool   `json:"heartbeatRunning"`
	Upstream            string `json:"upstream"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Healthy:             h.monitor.ServerHealthy(),
		ConsecutiveFailures: h.monitor.ConsecutiveFailures(),
		HeartbeatRunning:    h.monitor.HeartbeatRunning(),
		Upstream:            h.monitor.Config().BaseURL,
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	status := http.StatusOK
	if !body.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (h *Handler) InfoPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.infoPage)
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{
		Message:  "route not found",
		Category: string(reqlog.CategoryNotFound),
		Hint:     reqlog.CategoryNotFound.Hint(),
	})
}
