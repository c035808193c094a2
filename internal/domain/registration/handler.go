package registration

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/jbp/intake/internal/platform/auth"
	"github.com/jbp/intake/internal/platform/blobstore"
	"github.com/jbp/intake/internal/platform/ocr"
	"github.com/jbp/intake/pkg/pagination"
)

const serviceName = "JBP Patient Registration API"

// IntakeRequest is the closed JSON schema of a registration request. Unknown
// fields are rejected before the tags are checked.
type IntakeRequest struct {
	LastName   string `json:"pat_lastname" validate:"required,max=100"`
	FirstName  string `json:"pat_firstname" validate:"required,max=100"`
	MiddleName string `json:"pat_middlename" validate:"max=100"`
	BirthDate  string `json:"pat_birthdate" validate:"required,max=32"`
}

func (r IntakeRequest) raw() RawIntake {
	return RawIntake{
		LastName:   r.LastName,
		FirstName:  r.FirstName,
		MiddleName: r.MiddleName,
		BirthDate:  r.BirthDate,
	}
}

// fieldNames maps request struct fields onto the names ValidationError uses.
var fieldNames = map[string]string{
	"LastName":   "lastName",
	"FirstName":  "firstName",
	"MiddleName": "middleName",
	"BirthDate":  "birthDate",
}

type patientResponse struct {
	Identifier string    `json:"identifier"`
	LastName   string    `json:"pat_lastname"`
	FirstName  string    `json:"pat_firstname"`
	MiddleName string    `json:"pat_middlename"`
	BirthDate  string    `json:"pat_birthdate"`
	Period     string    `json:"period"`
	CreatedAt  time.Time `json:"created_at"`
}

func toResponse(p PatientRow, _ int) patientResponse {
	return patientResponse{
		Identifier: string(p.Identifier),
		LastName:   p.LastName,
		FirstName:  p.FirstName,
		MiddleName: p.MiddleName,
		BirthDate:  p.BirthDate,
		Period:     p.Period.String(),
		CreatedAt:  p.CreatedAt,
	}
}

type ocrResponse struct {
	ocr.Fields
	ImageID string `json:"image_id,omitempty"`
}

type Handler struct {
	svc      *Service
	ocr      ocr.Recognizer
	blobs    blobstore.BlobStore
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler builds the HTTP handler. recognizer may be nil when OCR is
// disabled; blobs may be nil when card images are not retained.
func NewHandler(svc *Service, recognizer ocr.Recognizer, blobs blobstore.BlobStore, logger zerolog.Logger) *Handler {
	if recognizer == nil {
		recognizer = ocr.Disabled{}
	}
	return &Handler{
		svc:      svc,
		ocr:      recognizer,
		blobs:    blobs,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes mounts the intake API on api (normally /api, already behind
// authentication). writeMW wraps the routes that create data.
func (h *Handler) RegisterRoutes(api *echo.Group, writeMW ...echo.MiddlewareFunc) {
	// Read endpoints: viewer, registrar
	readGroup := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleRegistrar))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:id", h.GetPatient)

	// Write endpoints: registrar
	writeGroup := api.Group("", append([]echo.MiddlewareFunc{auth.RequireRole(auth.RoleRegistrar)}, writeMW...)...)
	writeGroup.POST("/patient/register", h.Register)
	writeGroup.POST("/v1/registration-intake", h.Register)
	writeGroup.POST("/ocr", h.RecognizeCard)
}

// RegisterHealthRoutes mounts the unauthenticated liveness probes.
func (h *Handler) RegisterHealthRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/api/health", h.Health)
}

func (h *Handler) Register(c echo.Context) error {
	req, err := h.decodeIntake(c)
	if err != nil {
		return err
	}

	id, err := h.svc.Register(c.Request().Context(), req.raw())
	if err != nil {
		return registrationError(err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Patient registered successfully.",
		"data":    map[string]string{"identifier": string(id)},
	})
}

func (h *Handler) decodeIntake(c echo.Context) (IntakeRequest, error) {
	var req IntakeRequest
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return req, he
		}
		return req, errorResponse(http.StatusBadRequest, "invalid_request", "request body is not a valid intake: "+err.Error(), "")
	}
	if dec.More() {
		return req, errorResponse(http.StatusBadRequest, "invalid_request", "request body must hold a single JSON object", "")
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := fieldNames[fe.StructField()]
			if fe.Tag() == "required" {
				return req, registrationError(&ValidationError{Reason: ReasonMissingRequiredField, Field: field})
			}
			if field == "birthDate" {
				return req, registrationError(&ValidationError{Reason: ReasonInvalidDateFormat, Field: field})
			}
			return req, errorResponse(http.StatusBadRequest, "invalid_request",
				field+" exceeds "+fe.Param()+" characters", field)
		}
		return req, errorResponse(http.StatusBadRequest, "invalid_request", err.Error(), "")
	}
	return req, nil
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    toResponse(*p, 0),
	})
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	rows, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return lookupError(err)
	}
	items := lo.Map(rows, toResponse)
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path))
}

// RecognizeCard runs OCR over the uploaded ID card ("image" field) and
// returns suggested intake values. Nothing is registered here: the client
// submits the reviewed values to the register endpoint, where they are
// validated like any other input.
func (h *Handler) RecognizeCard(c echo.Context) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return errorResponse(http.StatusBadRequest, "missing_image", "No image uploaded", "image")
	}
	src, err := fh.Open()
	if err != nil {
		return errorResponse(http.StatusBadRequest, "missing_image", "uploaded image could not be read", "image")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, blobstore.MaxFileSize+1))
	if err != nil {
		return errorResponse(http.StatusBadRequest, "missing_image", "uploaded image could not be read", "image")
	}
	if len(data) == 0 {
		return errorResponse(http.StatusBadRequest, "missing_image", "uploaded image is empty", "image")
	}
	if len(data) > blobstore.MaxFileSize {
		return errorResponse(http.StatusRequestEntityTooLarge, "payload_too_large", "image exceeds maximum allowed size", "image")
	}

	contentType := imageContentType(data, fh.Header.Get("Content-Type"))
	if !blobstore.AllowedContentTypes[contentType] {
		return errorResponse(http.StatusUnsupportedMediaType, "unsupported_media_type",
			"image must be PNG, JPEG, TIFF, WebP or BMP", "image")
	}

	ctx := c.Request().Context()
	resp := ocrResponse{}
	if h.blobs != nil {
		rid, _ := c.Get("request_id").(string)
		name := fh.Filename
		if name == "" {
			name = "id-card"
		}
		meta, err := h.blobs.Upload(ctx, blobstore.BlobMetadata{
			FileName:    name,
			ContentType: contentType,
			RequestID:   rid,
			CreatedBy:   auth.UserIDFromContext(ctx),
		}, bytes.NewReader(data))
		if err != nil {
			h.logger.Warn().Err(err).Str("request_id", rid).Msg("retain id card image")
		} else {
			resp.ImageID = meta.ID
		}
	}

	text, err := h.ocr.Recognize(ctx, data)
	if err != nil {
		if errors.Is(err, ocr.ErrNoEngine) {
			return errorResponse(http.StatusNotImplemented, "ocr_disabled", "OCR is not enabled on this server", "")
		}
		h.logger.Error().Err(err).Msg("ocr failed")
		return errorResponse(http.StatusInternalServerError, "ocr_failed", "OCR failed", "")
	}

	resp.Fields = ocr.ParseText(text)
	resp.LastName = SanitizeName(resp.LastName)
	resp.FirstName = SanitizeName(resp.FirstName)
	resp.MiddleName = SanitizeName(resp.MiddleName)
	return c.JSON(http.StatusOK, resp)
}

// imageContentType sniffs data and falls back to the declared type for
// formats the sniffer does not know (TIFF).
func imageContentType(data []byte, declared string) string {
	detected := http.DetectContentType(data)
	if blobstore.AllowedContentTypes[detected] {
		return detected
	}
	declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	if detected == "application/octet-stream" && blobstore.AllowedContentTypes[declared] {
		return declared
	}
	return detected
}

func (h *Handler) Health(c echo.Context) error {
	if err := h.svc.Health(c.Request().Context()); err != nil {
		h.logger.Warn().Err(err).Msg("health check failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"status":  "unavailable",
			"service": serviceName,
			"error":   "StorageUnavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "OK",
		"service": serviceName,
	})
}

func errorResponse(status int, code, message, field string) *echo.HTTPError {
	body := map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	}
	if field != "" {
		body["field"] = field
	}
	return echo.NewHTTPError(status, body)
}

// registrationError maps Register failures onto HTTP statuses.
func registrationError(err error) *echo.HTTPError {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return errorResponse(http.StatusBadRequest, string(ve.Reason), validationMessage(ve), ve.Field)
	case errors.Is(err, ErrSequenceExhausted):
		return errorResponse(http.StatusConflict, "SequenceExhausted",
			"no patient numbers remain for this month", "")
	case errors.Is(err, ErrAllocationConflict):
		return errorResponse(http.StatusConflict, "AllocationConflict",
			"could not assign a patient number, please retry", "")
	case errors.Is(err, ErrStorageUnavailable):
		return errorResponse(http.StatusServiceUnavailable, "StorageUnavailable",
			"patient storage is unavailable, please retry later", "")
	}
	return errorResponse(http.StatusInternalServerError, "RegistrationFailed", "registration failed", "")
}

func validationMessage(ve *ValidationError) string {
	switch ve.Reason {
	case ReasonMissingRequiredField:
		return "Lastname, Firstname, and Birthdate are required."
	case ReasonInvalidDateFormat:
		return "Birthdate must be MM/DD/YYYY."
	}
	return ve.Error()
}

func lookupError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrInvalidIdentifier):
		return errorResponse(http.StatusBadRequest, "invalid_identifier", "identifier must look like PID2024060001", "id")
	case errors.Is(err, ErrPatientNotFound):
		return errorResponse(http.StatusNotFound, "not_found", "patient not found", "")
	case errors.Is(err, ErrStorageUnavailable):
		return errorResponse(http.StatusServiceUnavailable, "StorageUnavailable",
			"patient storage is unavailable, please retry later", "")
	}
	return errorResponse(http.StatusInternalServerError, "internal_error", "internal server error", "")
}
