package catalog

import (
	"errors"
	"net/http"
	"strconv"

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Lookups back the entry form; any signed-in staff member may use them.
	read := api.Group("/catalog", auth.RequireAuthenticated())
	read.GET("/patients", h.SearchPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/specialties", h.ListSpecialties)
	read.GET("/specialties/:id", h.GetSpecialty)
	read.GET("/procedures", h.ListProcedures)
	read.GET("/procedures/:id", h.GetProcedure)
	read.GET("/physicians", h.ListPhysicians)
	read.GET("/physicians/:id", h.GetPhysician)
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func optionalInt(c echo.Context, name string) (*int64, error) {
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

func notFoundOr500(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) SearchPatients(c echo.Context) error {
	record, err := optionalInt(c, "medical_record")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	q := PatientQuery{Name: c.QueryParam("name"), MedicalRecord: record}
	items, total, err := h.svc.SearchPatients(c.Request().Context(), q, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListSpecialties(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSpecialties(c.Request().Context(), c.QueryParam("name"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) GetSpecialty(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	s, err := h.svc.GetSpecialty(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "specialty")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListProcedures(c echo.Context) error {
	specialty, err := optionalInt(c, "specialty")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	q := ProcedureQuery{Name: c.QueryParam("name"), SpecialtyCode: specialty}
	items, total, err := h.svc.ListProcedures(c.Request().Context(), q, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) GetProcedure(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProcedure(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "procedure")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPhysicians(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPhysicians(c.Request().Context(), c.QueryParam("name"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) GetPhysician(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPhysician(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err, "physician")
	}
	return c.JSON(http.StatusOK, p)
}
