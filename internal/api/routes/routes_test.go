package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"lab-booking-api-server/config"
	"lab-booking-api-server/internal/approval"
	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/events"
	"lab-booking-api-server/internal/inventory"
	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/requests"
	"lab-booking-api-server/internal/socket"
	"lab-booking-api-server/internal/store"
	"lab-booking-api-server/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeUploader struct {
	key, contentType string
}

func (f *fakeUploader) UploadFile(_ context.Context, _ io.Reader, key, contentType string) (string, error) {
	f.key, f.contentType = key, contentType
	return "https://cdn.example.edu/" + key, nil
}

type APISuite struct {
	suite.Suite
	router     *gin.Engine
	uploader   *fakeUploader
	users      *users.Service
	adminToken string
}

func TestAPISuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		Server: config.ServerConfig{Port: "0"},
		JWT:    config.JWTConfig{Secret: "test-secret", Expiration: "1h"},
	}

	st := store.NewMemory(50)
	tokens, err := auth.NewTokens(cfg.JWT)
	s.Require().NoError(err)
	hub := socket.NewHub(log)
	ledger := inventory.NewLedger(st, log)
	s.users = users.NewService(st, tokens, log)
	s.uploader = &fakeUploader{}

	s.router = SetupRouter(cfg, Services{
		Ledger:   ledger,
		Desk:     requests.NewDesk(st, ledger, log),
		Engine:   approval.NewEngine(st, events.Multi{hub}, log),
		Users:    s.users,
		Tokens:   tokens,
		Hub:      hub,
		Uploader: s.uploader,
		Log:      log,
	})

	_, err = s.users.EnsureAdmin(ctx, config.AdminConfig{Name: "Admin", Email: "admin@uni.edu", Password: "admin-pass"})
	s.Require().NoError(err)
	s.adminToken = s.login("admin@uni.edu", "admin-pass")
}

func (s *APISuite) call(method, path, token string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *APISuite) login(email, password string) string {
	w := s.call(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	return decode[struct {
		Token string `json:"token"`
	}](s.T(), w).Token
}

// student registers, gets approved by the admin and logs in.
func (s *APISuite) student(email string) string {
	return s.member(email, "student")
}

func (s *APISuite) member(email, role string) string {
	w := s.call(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "Member", "email": email, "password": "student-pass", "role": role,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	u := decode[struct {
		User models.User `json:"user"`
	}](s.T(), w).User

	w = s.call(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": "student-pass"})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.call(http.MethodPost, "/api/v1/admin/users/"+u.ID+"/approve", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	return s.login(email, "student-pass")
}

func (s *APISuite) component(name string, total int) models.Component {
	w := s.call(http.MethodPost, "/api/v1/admin/components", s.adminToken, gin.H{
		"name": name, "category": "microcontroller", "totalQuantity": total,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Component](s.T(), w)
}

func (s *APISuite) order(token string, items ...gin.H) models.ReservationRequest {
	w := s.call(http.MethodPost, "/api/v1/orders", token, gin.H{"items": items})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	return decode[models.ReservationRequest](s.T(), w)
}

func (s *APISuite) TestHealth() {
	w := s.call(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *APISuite) TestApprovalFlow() {
	studentToken := s.student("lan@uni.edu")
	arduino := s.component("Arduino Uno", 5)

	first := s.order(studentToken, gin.H{"componentId": arduino.ID, "quantity": 3})
	s.Equal("Arduino Uno", first.Items[0].ComponentName)
	second := s.order(studentToken, gin.H{"componentId": arduino.ID, "quantity": 3})

	w := s.call(http.MethodPut, "/api/v1/admin/requests/"+first.ID+"/status", s.adminToken, gin.H{"status": "approved"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.JSONEq(`{"success":true,"status":"approved"}`, w.Body.String())

	w = s.call(http.MethodPut, "/api/v1/admin/requests/"+second.ID+"/status", s.adminToken, gin.H{"status": "approved"})
	s.Equal(http.StatusConflict, w.Code)
	res := decode[approval.Result](s.T(), w)
	s.False(res.Success)
	s.Equal("Stock shortage", res.Error)
	s.Equal(approval.CodeStockShortage, res.Code)
	s.Equal([]string{"Arduino Uno (Requested: 3, Available: 2)"}, res.MissingItems)

	w = s.call(http.MethodGet, "/api/v1/components/"+arduino.ID, studentToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(2, decode[models.Component](s.T(), w).AvailableQuantity)

	w = s.call(http.MethodPut, "/api/v1/admin/requests/"+second.ID+"/status", s.adminToken, gin.H{"status": "rejected"})
	s.Equal(http.StatusOK, w.Code)

	w = s.call(http.MethodPut, "/api/v1/admin/requests/"+first.ID+"/status", s.adminToken, gin.H{"status": "rejected"})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal(approval.CodeAlreadyFinalized, decode[approval.Result](s.T(), w).Code)

	w = s.call(http.MethodPut, "/api/v1/admin/requests/ORD-NOPE/status", s.adminToken, gin.H{"status": "approved"})
	s.Equal(http.StatusNotFound, w.Code)

	w = s.call(http.MethodPut, "/api/v1/admin/requests/"+first.ID+"/status", s.adminToken, gin.H{"status": "shipped"})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.call(http.MethodGet, "/api/v1/admin/requests?status=rejected", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	rejected := decode[[]models.ReservationRequest](s.T(), w)
	s.Require().Len(rejected, 1)
	s.Equal(second.ID, rejected[0].ID)
}

func (s *APISuite) TestStudentsCannotDecide() {
	studentToken := s.student("minh@uni.edu")
	arduino := s.component("Arduino Uno", 5)
	r := s.order(studentToken, gin.H{"componentId": arduino.ID, "quantity": 1})

	w := s.call(http.MethodPut, "/api/v1/admin/requests/"+r.ID+"/status", studentToken, gin.H{"status": "approved"})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.call(http.MethodPut, "/api/v1/admin/requests/"+r.ID+"/status", "", gin.H{"status": "approved"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *APISuite) TestLecturerDecidesBookingsOnly() {
	studentToken := s.student("hoa@uni.edu")
	lecturerToken := s.member("thay.nam@uni.edu", "lecturer")
	arduino := s.component("Arduino Uno", 5)

	w := s.call(http.MethodPost, "/api/v1/bookings", studentToken, gin.H{
		"date": "2026-11-04", "startTime": "13:00", "endTime": "15:00", "purpose": "Capstone",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	booking := decode[models.ReservationRequest](s.T(), w)
	order := s.order(studentToken, gin.H{"componentId": arduino.ID, "quantity": 2})

	w = s.call(http.MethodGet, "/api/v1/lecturer/bookings?status=pending", lecturerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	queue := decode[[]models.ReservationRequest](s.T(), w)
	s.Require().Len(queue, 1)
	s.Equal(booking.ID, queue[0].ID)

	s.Equal(http.StatusOK, s.call(http.MethodGet, "/api/v1/requests/"+booking.ID, lecturerToken, nil).Code)
	s.Equal(http.StatusNotFound, s.call(http.MethodGet, "/api/v1/requests/"+order.ID, lecturerToken, nil).Code)

	w = s.call(http.MethodPut, "/api/v1/lecturer/requests/"+order.ID+"/status", lecturerToken, gin.H{"status": "approved"})
	s.Equal(http.StatusForbidden, w.Code, w.Body.String())
	w = s.call(http.MethodGet, "/api/v1/components/"+arduino.ID, studentToken, nil)
	s.Equal(5, decode[models.Component](s.T(), w).AvailableQuantity)

	w = s.call(http.MethodPut, "/api/v1/admin/requests/"+order.ID+"/status", lecturerToken, gin.H{"status": "approved"})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.call(http.MethodPut, "/api/v1/lecturer/requests/"+booking.ID+"/status", lecturerToken, gin.H{"status": "approved"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.JSONEq(`{"success":true,"status":"approved"}`, w.Body.String())

	w = s.call(http.MethodPut, "/api/v1/lecturer/requests/BKG-NOPE/status", lecturerToken, gin.H{"status": "approved"})
	s.Equal(http.StatusNotFound, w.Code)

	w = s.call(http.MethodGet, "/api/v1/lecturer/bookings", studentToken, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.call(http.MethodPut, "/api/v1/lecturer/requests/"+order.ID+"/status", s.adminToken, gin.H{"status": "approved"})
	s.Equal(http.StatusOK, w.Code, w.Body.String())
}

func (s *APISuite) TestRequestVisibility() {
	owner := s.student("owner@uni.edu")
	other := s.student("other@uni.edu")
	arduino := s.component("Arduino Uno", 5)

	w := s.call(http.MethodPost, "/api/v1/bookings", owner, gin.H{
		"date": "2026-11-03", "startTime": "09:00", "endTime": "10:00", "purpose": "Lab 3",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	booking := decode[models.ReservationRequest](s.T(), w)
	s.order(owner, gin.H{"componentId": arduino.ID, "quantity": 1})

	s.Equal(http.StatusOK, s.call(http.MethodGet, "/api/v1/requests/"+booking.ID, owner, nil).Code)
	s.Equal(http.StatusOK, s.call(http.MethodGet, "/api/v1/requests/"+booking.ID, s.adminToken, nil).Code)
	s.Equal(http.StatusNotFound, s.call(http.MethodGet, "/api/v1/requests/"+booking.ID, other, nil).Code)

	w = s.call(http.MethodGet, "/api/v1/requests/my", owner, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Len(decode[[]models.ReservationRequest](s.T(), w), 2)

	w = s.call(http.MethodGet, "/api/v1/requests/my", other, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Empty(decode[[]models.ReservationRequest](s.T(), w))

	w = s.call(http.MethodGet, "/api/v1/requests/my/stats", owner, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"total":1,"approved":0,"pending":1,"rejected":0}`, w.Body.String())
}

func (s *APISuite) TestComponentAdministration() {
	studentToken := s.student("an@uni.edu")
	c := s.component("DHT11", 10)

	w := s.call(http.MethodPost, "/api/v1/admin/components", studentToken, gin.H{"name": "x", "category": "sensor", "totalQuantity": 1})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.call(http.MethodPost, "/api/v1/admin/components", s.adminToken, gin.H{"name": "x", "category": "Labs equipment", "totalQuantity": 1})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.call(http.MethodPatch, "/api/v1/admin/components/"+c.ID, s.adminToken, gin.H{"availableQuantity": 4})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.call(http.MethodPatch, "/api/v1/admin/components/"+c.ID, s.adminToken, gin.H{"availableQuantity": 11})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.call(http.MethodPost, "/api/v1/admin/components/"+c.ID+"/restock", s.adminToken, gin.H{"quantity": 6})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal(10, decode[models.Component](s.T(), w).AvailableQuantity)

	w = s.call(http.MethodPost, "/api/v1/admin/components/"+c.ID+"/restock", s.adminToken, gin.H{"quantity": 1})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.call(http.MethodGet, "/api/v1/components?q=dht", studentToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Len(decode[[]models.Component](s.T(), w), 1)

	w = s.call(http.MethodGet, "/api/v1/components/CMP-NOPE", studentToken, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *APISuite) TestUploadImage() {
	c := s.component("Servo Motor (SG90)", 3)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="servo.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	s.Require().NoError(err)
	_, err = part.Write([]byte("\x89PNG fake"))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/components/"+c.ID+"/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.adminToken)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	got := decode[models.Component](s.T(), w)
	s.Equal("https://cdn.example.edu/"+s.uploader.key, got.ImageURL)
	s.Equal("image/png", s.uploader.contentType)
	s.Contains(s.uploader.key, "components/"+c.ID+"/")
}

func (s *APISuite) TestAdminUsers() {
	s.student("hoa@uni.edu")

	w := s.call(http.MethodGet, "/api/v1/admin/users", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	list := decode[[]models.User](s.T(), w)
	s.Len(list, 2)
	s.NotContains(w.Body.String(), "passwordHash")

	var studentID string
	for _, u := range list {
		if u.Email == "hoa@uni.edu" {
			studentID = u.ID
		}
	}
	w = s.call(http.MethodPatch, "/api/v1/admin/users/"+studentID, s.adminToken, gin.H{"role": "lecturer"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal(models.RoleLecturer, decode[models.User](s.T(), w).Role)

	w = s.call(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "Dup", "email": "hoa@uni.edu", "password": "whatever1", "role": "student",
	})
	s.Equal(http.StatusConflict, w.Code)

	w = s.call(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "hoa@uni.edu", "password": "wrong"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func TestCorsConfig(t *testing.T) {
	c := corsConfig(config.ServerConfig{})
	assert.True(t, c.AllowAllOrigins)
	assert.False(t, c.AllowCredentials)

	c = corsConfig(config.ServerConfig{AllowedOrigins: []string{"*"}})
	assert.True(t, c.AllowAllOrigins)
	assert.Empty(t, c.AllowOrigins)

	c = corsConfig(config.ServerConfig{AllowedOrigins: []string{"https://lab.uni.edu"}})
	assert.False(t, c.AllowAllOrigins)
	assert.Equal(t, []string{"https://lab.uni.edu"}, c.AllowOrigins)
}
