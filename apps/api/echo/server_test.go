package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/identity"
	"github.com/dadanisme/shule/core/school"
	emailsvc "github.com/dadanisme/shule/services/email"
	inmemdoc "github.com/dadanisme/shule/storage/document/inmem"
	testutil "github.com/dadanisme/shule/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type testApp struct {
	server       *Server
	conf         *core.Config
	db           *inmemdoc.DB
	identityRepo identity.Repository
	gradingRepo  grading.Repository
}

func setup(t *testing.T) *testApp {
	db, err := inmemdoc.Open()
	if err != nil {
		t.Fatalf("inmemdoc.Open() failed: %v", err)
	}
	conf := testutil.NewConfig()
	identityRepo := inmemdoc.NewIdentityRepository(db)
	gradingRepo := inmemdoc.NewGradingRepository(db)
	validate, translator := core.NewValidator()

	server := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         testutil.Logger{},
		IdentitySvc:    identity.NewService(identityRepo, emailsvc.NewConsoleServiceMock(conf), testutil.Logger{}, conf),
		GradingSvc:     grading.NewService(gradingRepo, testutil.Logger{}, conf.Aggregator),
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	return &testApp{server: server, conf: conf, db: db, identityRepo: identityRepo, gradingRepo: gradingRepo}
}

func (app *testApp) adminToken(t *testing.T) string {
	usr := testutil.CreateUser(t, app.identityRepo, "admin1", "admin@test.cd", "Admin", "s1", true)
	return app.token(t, usr)
}

func (app *testApp) token(t *testing.T, usr identity.User) string {
	token, err := GenerateToken(GetUserClaims(usr, app.conf), app.conf)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshal(t *testing.T, v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() failed: %v", err)
	}
	return data
}

func jsonBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func Test_home(t *testing.T) {
	app := setup(t)

	req, rec := newRequest(http.MethodGet, "/")
	app.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Shule API!", rec.Body.String())
}

func Test_health(t *testing.T) {
	app := setup(t)

	req, rec := newRequest(http.MethodGet, "/v1/health")
	app.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	jsonBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "TEST", body["env"])
}

func Test_schoolApi_auth(t *testing.T) {
	app := setup(t)
	teacher := testutil.CreateUser(t, app.identityRepo, "u1", "teacher@test.cd", "Teacher", "s1", false)

	t.Run("missing token", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/registrations/pending")
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body httpErr
		jsonBody(t, rec, &body)
		assert.Equal(t, errMissingToken, body)
	})

	t.Run("non-admin token", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/registrations/pending", app.token(t, teacher))
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := GetUserClaims(teacher, app.conf)
		claims.ExpiresAt = time.Now().Add(-time.Hour).Unix()
		token, err := GenerateToken(claims, app.conf)
		if err != nil {
			t.Fatalf("getToken() failed: %v", err)
		}

		req, rec := newAuthRequest(http.MethodGet, "/v1/registrations/pending", token)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func Test_schoolApi_invite(t *testing.T) {
	app := setup(t)
	token := app.adminToken(t)

	t.Run("ok", func(t *testing.T) {
		data := marshal(t, InviteRequest{Email: "Jane@Test.CD", Name: "Jane", SchoolID: "s1", SchoolName: "Shule Yetu"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/invite", token, data)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var reg identity.Registration
		jsonBody(t, rec, &reg)
		assert.Equal(t, "jane@test.cd", reg.UserEmail)
		assert.Equal(t, identity.StatusPending, reg.Status)
		assert.Equal(t, "s1", reg.SchoolID.String)
	})

	t.Run("duplicate email", func(t *testing.T) {
		data := marshal(t, InviteRequest{Email: "jane@test.cd", SchoolID: "s1", SchoolName: "Shule Yetu"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/invite", token, data)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]string
		jsonBody(t, rec, &body)
		assert.Contains(t, body, "email")
	})

	t.Run("invalid payload", func(t *testing.T) {
		data := marshal(t, InviteRequest{Email: "not-an-email", SchoolName: "Shule Yetu"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/invite", token, data)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]string
		jsonBody(t, rec, &body)
		assert.Contains(t, body, "email")
		assert.Contains(t, body, "schoolId")
	})
}

func Test_schoolApi_pendingRegistrations(t *testing.T) {
	app := setup(t)
	token := app.adminToken(t)

	now := time.Now().UTC()
	testutil.CreateRegistration(t, app.identityRepo, "u1", "a@test.cd", identity.StatusPending, "", now.Add(-time.Hour))
	testutil.CreateRegistration(t, app.identityRepo, "u2", "b@test.cd", identity.StatusApproved, "s1", now.Add(-30*time.Minute))
	testutil.CreateRegistration(t, app.identityRepo, "u3", "c@test.cd", identity.StatusPending, "", now)

	req, rec := newAuthRequest(http.MethodGet, "/v1/registrations/pending", token)
	app.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var regs []identity.Registration
	jsonBody(t, rec, &regs)
	if assert.Len(t, regs, 2) {
		assert.Equal(t, "a@test.cd", regs[0].UserEmail)
		assert.Equal(t, "c@test.cd", regs[1].UserEmail)
	}
}

func Test_schoolApi_approve(t *testing.T) {
	app := setup(t)
	token := app.adminToken(t)

	t.Run("ok", func(t *testing.T) {
		testutil.CreateUser(t, app.identityRepo, "u1", "jane@test.cd", "Jane", "", false)
		reg := testutil.CreateRegistration(t, app.identityRepo, "u1", "jane@test.cd", identity.StatusPending, "")

		data := marshal(t, ApproveRequest{SchoolID: "s1"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/"+reg.ID+"/approve", token, data)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		jsonBody(t, rec, &reg)
		assert.Equal(t, identity.StatusApproved, reg.Status)
		assert.Equal(t, "s1", reg.SchoolID.String)
		assert.Equal(t, "admin1", reg.ApprovedBy.String)

		usr, err := app.identityRepo.GetUser(context.Background(), "u1")
		assert.NoError(t, err)
		assert.Equal(t, "s1", usr.SchoolID.String)
	})

	t.Run("unknown registration", func(t *testing.T) {
		data := marshal(t, ApproveRequest{SchoolID: "s1"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/nope/approve", token, data)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("already approved", func(t *testing.T) {
		testutil.CreateUser(t, app.identityRepo, "u2", "john@test.cd", "John", "", false)
		reg := testutil.CreateRegistration(t, app.identityRepo, "u2", "john@test.cd", identity.StatusApproved, "s1")

		data := marshal(t, ApproveRequest{SchoolID: "s2"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/"+reg.ID+"/approve", token, data)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing schoolId", func(t *testing.T) {
		reg := testutil.CreateRegistration(t, app.identityRepo, "u3", "mary@test.cd", identity.StatusPending, "")

		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/"+reg.ID+"/approve", token, marshal(t, ApproveRequest{}))
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_schoolApi_reject(t *testing.T) {
	app := setup(t)
	token := app.adminToken(t)

	t.Run("ok", func(t *testing.T) {
		reg := testutil.CreateRegistration(t, app.identityRepo, "u1", "jane@test.cd", identity.StatusPending, "")

		data := marshal(t, RejectRequest{Reason: "unknown school"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/"+reg.ID+"/reject", token, data)
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		jsonBody(t, rec, &reg)
		assert.Equal(t, identity.StatusRejected, reg.Status)
		assert.Equal(t, "admin1", reg.RejectedBy.String)
		assert.Equal(t, "unknown school", reg.RejectionReason.String)
	})

	t.Run("already rejected", func(t *testing.T) {
		reg := testutil.CreateRegistration(t, app.identityRepo, "u2", "john@test.cd", identity.StatusRejected, "")

		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/"+reg.ID+"/reject", token, marshal(t, RejectRequest{}))
		app.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_schoolApi_recomputeSchool(t *testing.T) {
	app := setup(t)
	token := app.adminToken(t)

	now := time.Now().UTC()
	app.db.PutSchool(school.School{ID: "s1", Name: "Shule Yetu", ActiveBatchID: null.StringFrom("b1"), CreatedAt: now, UpdatedAt: now})
	app.db.PutBatch(school.Batch{ID: "b1", SchoolID: "s1", Name: "2026", CreatedAt: now, UpdatedAt: now})
	app.db.PutSubject(school.Subject{ID: "sub1", SchoolID: "s1", Name: "Math", CreatedAt: now, UpdatedAt: now})
	app.db.PutExam(school.Exam{
		ID: "e1", SchoolID: "s1", SubjectID: "sub1", Name: "Midterm",
		PassingScore: null.Float64From(60), PendingReview: 99, CreatedAt: now, UpdatedAt: now,
	})
	app.db.PutStudent(school.Student{ID: "st1", SchoolID: "s1", Name: "Student", BatchID: null.StringFrom("b1"), CreatedAt: now, UpdatedAt: now})
	app.db.PutExamResult(school.ExamResult{
		ID: "st1", SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e1",
		StudentID: "st1", Score: null.Float64From(80), CreatedAt: now, UpdatedAt: now,
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/schools/s1/recompute", token)
	app.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body SuccessResponse
	jsonBody(t, rec, &body)
	assert.NotEmpty(t, body.Success)

	exam, _ := app.db.GetExam("e1")
	assert.Equal(t, 0, exam.PendingReview)
	assert.True(t, exam.IsDone)
	assert.Equal(t, 1, exam.TotalStudentsPassed)

	subj, _ := app.db.GetSubject("sub1")
	assert.Equal(t, 0, subj.PendingReview)

	st, _ := app.db.GetStudent("st1")
	assert.Equal(t, float64(80), st.AverageScore.Float64)
}
