package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agenda-clinica/agenda/libs/httpx"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/access"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/reservation"
	"github.com/go-playground/validator/v10"
)

// Reservations is the write side of the booking flow.
type Reservations interface {
	Reserve(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error)
	Cancel(ctx context.Context, appointmentID int64) (reservation.CancelResult, error)
	Reschedule(ctx context.Context, appointmentID, newSlotID int64) (reservation.RescheduleResult, error)
	Delete(ctx context.Context, appointmentID int64) (reservation.DeleteResult, error)
}

// Catalog is the read side: services, open slots and listings.
type Catalog interface {
	ListServices(ctx context.Context) ([]model.Service, error)
	DateRange(ctx context.Context, serviceID int64) (model.DateRange, error)
	OpenSlots(ctx context.Context, serviceID int64, date time.Time) ([]model.OpenSlot, error)
	ListByPhone(ctx context.Context, phoneDigits string, from, to *time.Time) ([]model.AppointmentListing, error)
	ListAdmin(ctx context.Context, f model.AppointmentFilter) ([]model.AppointmentListing, error)
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

const (
	scopePublic = "public"
	scopeAdmin  = "admin"
)

type BookingHandler struct {
	reservations Reservations
	catalog      Catalog
	auth         Authenticator
	dbNow        func(context.Context) (time.Time, error)
	validate     *validator.Validate
	logger       *slog.Logger
}

func NewBookingHandler(reservations Reservations, catalog Catalog, auth Authenticator, dbNow func(context.Context) (time.Time, error), logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		reservations: reservations,
		catalog:      catalog,
		auth:         auth,
		dbNow:        dbNow,
		validate:     newValidator(),
		logger:       logger,
	}
}

// Routes wires every endpoint into mux. adminOnly guards the admin routes and
// limited throttles the public write routes and login.
func (h *BookingHandler) Routes(mux *http.ServeMux, adminOnly, limited httpx.Middleware) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /services", h.ListServices)
	mux.HandleFunc("GET /services/{id}/date-range", h.DateRange)
	mux.HandleFunc("GET /services/{id}/slots", h.OpenSlots)

	mux.Handle("POST /appointments", limited(http.HandlerFunc(h.Create)))
	mux.HandleFunc("GET /appointments", h.ListByPhone)
	mux.Handle("PATCH /appointments/{id}/cancel", limited(http.HandlerFunc(h.Cancel)))
	mux.Handle("POST /appointments/reschedule", limited(http.HandlerFunc(h.Reschedule)))

	mux.Handle("POST /admin/login", limited(http.HandlerFunc(h.Login)))
	mux.Handle("GET /admin/appointments", adminOnly(http.HandlerFunc(h.AdminList)))
	mux.Handle("POST /admin/appointments", adminOnly(http.HandlerFunc(h.AdminCreate)))
	mux.Handle("PATCH /admin/appointments/{id}/cancel", adminOnly(http.HandlerFunc(h.Cancel)))
	mux.Handle("DELETE /admin/appointments/{id}", adminOnly(http.HandlerFunc(h.AdminDelete)))
}

func (h *BookingHandler) Health(w http.ResponseWriter, r *http.Request) {
	now, err := h.dbNow(r.Context())
	if err != nil {
		h.logger.Error("health check failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "erro",
			"message": "Banco de dados indisponível",
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": "conectado",
		"time":     now,
	})
}

func (h *BookingHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.catalog.ListServices(r.Context())
	if err != nil {
		h.internalError(w, "list services", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(services))
}

func (h *BookingHandler) DateRange(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "Informe :id")
		return
	}
	dr, err := h.catalog.DateRange(r.Context(), serviceID)
	if err != nil {
		h.internalError(w, "date range", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dr)
}

func (h *BookingHandler) OpenSlots(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathID(r, "id")
	date, err := parseDate(r.URL.Query().Get("date"))
	if !ok || err != nil || date == nil {
		httpx.WriteError(w, http.StatusBadRequest, "Informe :id e date=YYYY-MM-DD")
		return
	}
	slots, err := h.catalog.OpenSlots(r.Context(), serviceID, *date)
	if err != nil {
		h.internalError(w, "open slots", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(slots))
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, scopePublic)
}

func (h *BookingHandler) AdminCreate(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, scopeAdmin)
}

func (h *BookingHandler) create(w http.ResponseWriter, r *http.Request, scope string) {
	var body reserveBody
	if !h.decode(w, r, &body) {
		return
	}
	trimAll(&body.PatientName, &body.PatientPhone)
	if err := h.validate.Struct(body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Campos obrigatórios: slot_id, patient_name, patient_phone")
		return
	}

	res, err := h.reservations.Reserve(r.Context(), reservation.ReserveRequest{
		SlotID:         int64(body.SlotID),
		PatientName:    body.PatientName,
		PatientPhone:   body.PatientPhone,
		Notes:          body.Notes,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Scope:          scope,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	httpx.WriteJSON(w, http.StatusCreated, res.Appointment)
}

func (h *BookingHandler) ListByPhone(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := phoneQuery{Phone: q.Get("phone"), From: q.Get("from"), To: q.Get("to")}
	trimAll(&params.Phone, &params.From, &params.To)
	if params.Phone == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Informe phone")
		return
	}
	if err := h.validate.Struct(params); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Datas devem estar no formato YYYY-MM-DD")
		return
	}
	from, _ := parseDate(params.From)
	to, _ := parseDate(params.To)

	list, err := h.catalog.ListByPhone(r.Context(), model.PhoneDigits(params.Phone), from, to)
	if err != nil {
		h.internalError(w, "list by phone", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "Informe :id")
		return
	}
	res, err := h.reservations.Cancel(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cancelResponse{OK: true, CanceledID: res.CanceledID})
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var body rescheduleBody
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Campos obrigatórios: appointment_id, new_slot_id")
		return
	}
	res, err := h.reservations.Reschedule(r.Context(), int64(body.AppointmentID), int64(body.NewSlotID))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rescheduleResponse{OK: true, CanceledID: res.CanceledID, NewAppointment: res.NewAppointment})
}

func (h *BookingHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !h.decode(w, r, &body) {
		return
	}
	trimAll(&body.Email)
	if err := h.validate.Struct(body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Informe email e password")
		return
	}
	token, err := h.auth.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, access.ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "Credenciais inválidas")
			return
		}
		h.internalError(w, "login", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *BookingHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := adminQuery{
		Date:   q.Get("date"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Status: q.Get("status"),
		Phone:  q.Get("phone"),
	}
	trimAll(&params.Date, &params.From, &params.To, &params.Status, &params.Phone)
	if err := h.validate.Struct(params); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Datas devem estar no formato YYYY-MM-DD")
		return
	}

	filter := model.AppointmentFilter{Phone: params.Phone}
	filter.Date, _ = parseDate(params.Date)
	filter.From, _ = parseDate(params.From)
	filter.To, _ = parseDate(params.To)
	if params.Status != "" {
		status, err := model.ParseStatus(params.Status)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "Status inválido, use CONFIRMED ou CANCELED")
			return
		}
		filter.Status = &status
	}

	list, err := h.catalog.ListAdmin(r.Context(), filter)
	if err != nil {
		h.internalError(w, "admin list", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *BookingHandler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "Informe :id")
		return
	}
	res, err := h.reservations.Delete(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if p, ok := access.PrincipalFromContext(r.Context()); ok {
		h.logger.Info("appointment deleted by admin", "appointment_id", id, "user_id", p.UserID)
	}
	httpx.WriteJSON(w, http.StatusOK, deleteResponse{OK: true, DeletedID: res.DeletedID})
}

type cancelResponse struct {
	OK         bool  `json:"ok"`
	CanceledID int64 `json:"canceled_id"`
}

type rescheduleResponse struct {
	OK             bool              `json:"ok"`
	CanceledID     int64             `json:"canceled_id"`
	NewAppointment model.Appointment `json:"new_appointment"`
}

type deleteResponse struct {
	OK        bool  `json:"ok"`
	DeletedID int64 `json:"deleted_id"`
}

func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(r, dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "Corpo da requisição muito grande")
		return false
	}
	httpx.WriteError(w, http.StatusBadRequest, "JSON inválido")
	return false
}

// writeEngineError maps a reservation failure to its status code. Unclassified
// errors are logged and reported without detail.
func (h *BookingHandler) writeEngineError(w http.ResponseWriter, err error) {
	var de *reservation.Error
	if !errors.As(err, &de) {
		h.internalError(w, "reservation", err)
		return
	}
	switch de.Kind {
	case reservation.KindInvalid:
		httpx.WriteError(w, http.StatusBadRequest, de.Message)
	case reservation.KindNotFound:
		httpx.WriteError(w, http.StatusNotFound, de.Message)
	case reservation.KindConflict:
		httpx.WriteError(w, http.StatusConflict, de.Message)
	case reservation.KindTransient:
		h.logger.Warn("transient reservation failure", "err", err)
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, de.Message)
	default:
		h.internalError(w, "reservation", err)
	}
}

func (h *BookingHandler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, "Erro interno")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
