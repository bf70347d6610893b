package waitlist

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sgfc/sgfc/internal/platform/auth"
	"github.com/sgfc/sgfc/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the staff API on api and the patient lookup on public.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	wl := api.Group("/waitlist")

	// Read endpoints – regulation desk, physicians, managers
	read := wl.Group("", auth.RequireRole(auth.RoleNIR, auth.RolePhysician, auth.RoleManager))
	read.GET("/queue", h.GetQueue)
	read.GET("/stats", h.GetStats)
	read.GET("/entries", h.SearchEntries)
	read.GET("/entries/:id", h.GetEntry)

	// Audit trail – regulation desk, managers
	wl.GET("/entries/:id/history", h.GetHistory, auth.RequireRole(auth.RoleNIR, auth.RoleManager))

	// Write endpoints – regulation desk, physicians
	write := wl.Group("", auth.RequireRole(auth.RoleNIR, auth.RolePhysician))
	write.POST("/entries", h.RegisterEntry)
	write.PUT("/entries/:id", h.UpdateEntry)

	wl.POST("/entries/:id/removal", h.RemoveEntry, auth.RequireRole(auth.RoleNIR, auth.RoleManager))

	if public != nil {
		public.GET("/waitlist", h.PublicLookup)
	}
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAuditRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadyRemoved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func entryID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field+": expected YYYY-MM-DD")
	}
	return &t, nil
}

func queryInt(c echo.Context, name string) (*int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &v, nil
}

func queryBool(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &v, nil
}

// filterFromQuery reads the list filters shared by queue, stats and search.
func filterFromQuery(c echo.Context) (Filter, error) {
	var (
		f   Filter
		err error
	)
	if f.SpecialtyID, err = queryInt(c, "specialty"); err != nil {
		return f, err
	}
	if f.ProcedureID, err = queryInt(c, "procedure"); err != nil {
		return f, err
	}
	if f.PhysicianID, err = queryInt(c, "physician"); err != nil {
		return f, err
	}
	if f.MedicalRecord, err = queryInt(c, "medical_record"); err != nil {
		return f, err
	}
	if f.JudicialOrder, err = queryBool(c, "judicial"); err != nil {
		return f, err
	}
	if f.Active, err = queryBool(c, "active"); err != nil {
		return f, err
	}
	if f.From, err = parseDate("from", c.QueryParam("from")); err != nil {
		return f, err
	}
	if f.To, err = parseDate("to", c.QueryParam("to")); err != nil {
		return f, err
	}
	if raw := c.QueryParam("priority"); raw != "" {
		p := Priority(raw)
		if !p.Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid priority")
		}
		f.Priority = &p
	}
	return f, nil
}

// -- Queue --

func (h *Handler) GetQueue(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	q, err := h.svc.Queue(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) GetStats(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// -- Entries --

func (h *Handler) SearchEntries(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	records, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if records == nil {
		records = []*AuditRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": records})
}

type registerBody struct {
	MedicalRecord   int64     `json:"medical_record"`
	SpecialtyID     int64     `json:"specialty_id"`
	ProcedureID     int64     `json:"procedure_id"`
	PhysicianID     *int64    `json:"physician_id"`
	EntryDate       string    `json:"entry_date"`
	Priority        Priority  `json:"priority"`
	JudicialOrder   bool      `json:"judicial_order"`
	Situation       Situation `json:"situation"`
	NextContactDate string    `json:"next_contact_date"`
	Notes           *string   `json:"notes"`
	Reason          string    `json:"reason"`
}

func (h *Handler) RegisterEntry(c echo.Context) error {
	var body registerBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entryDate, err := parseDate("entry_date", body.EntryDate)
	if err != nil {
		return err
	}
	nextContact, err := parseDate("next_contact_date", body.NextContactDate)
	if err != nil {
		return err
	}

	e := &Entry{
		MedicalRecord:   body.MedicalRecord,
		SpecialtyID:     body.SpecialtyID,
		ProcedureID:     body.ProcedureID,
		PhysicianID:     body.PhysicianID,
		Priority:        body.Priority,
		JudicialOrder:   body.JudicialOrder,
		Situation:       body.Situation,
		NextContactDate: nextContact,
		Notes:           body.Notes,
	}
	if entryDate != nil {
		e.EntryDate = *entryDate
	}

	ctx := c.Request().Context()
	if err := h.svc.Register(ctx, e, auth.UserIDFromContext(ctx), body.Reason); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

type updateBody struct {
	Priority        *Priority  `json:"priority"`
	JudicialOrder   *bool      `json:"judicial_order"`
	Situation       *Situation `json:"situation"`
	Notes           *string    `json:"notes"`
	NextContactDate *string    `json:"next_contact_date"`
	PhysicianID     *int64     `json:"physician_id"`
	EntryDate       *string    `json:"entry_date"`
	Reason          string     `json:"reason"`
}

func (b updateBody) request() (UpdateRequest, error) {
	req := UpdateRequest{
		Priority:      b.Priority,
		JudicialOrder: b.JudicialOrder,
		Situation:     b.Situation,
		Notes:         b.Notes,
		PhysicianID:   b.PhysicianID,
	}
	var err error
	if b.NextContactDate != nil {
		if req.NextContactDate, err = parseDate("next_contact_date", *b.NextContactDate); err != nil {
			return req, err
		}
	}
	if b.EntryDate != nil {
		if req.EntryDate, err = parseDate("entry_date", *b.EntryDate); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (h *Handler) UpdateEntry(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	var body updateBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := body.request()
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	e, err := h.svc.Update(ctx, id, req, auth.UserIDFromContext(ctx), body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

type removalBody struct {
	ExitReason ExitReason `json:"exit_reason"`
	Reason     string     `json:"reason"`
}

func (h *Handler) RemoveEntry(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	var body removalBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	e, err := h.svc.Remove(ctx, id, body.ExitReason, auth.UserIDFromContext(ctx), body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

// -- Public --

func (h *Handler) PublicLookup(c echo.Context) error {
	record, err := queryInt(c, "medical_record")
	if err != nil {
		return err
	}
	if record == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "medical_record is required")
	}
	entries, err := h.svc.PublicLookup(c.Request().Context(), *record)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": entries})
}
