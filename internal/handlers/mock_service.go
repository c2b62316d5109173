package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"thermocycler/internal/device"
	"thermocycler/internal/models"
	"thermocycler/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockRuns struct {
	compileRes service.CompileResult
	compileErr error
	startRes   service.StartResult
	startErr   error
	stopErr    error
	status     []service.ChannelStatus
	history    []models.RunRecord
	historyErr error
	samples    []models.Sample
	samplesErr error

	lastCompile  string
	lastStart    service.StartParams
	lastStop     string
	lastLimit    int
	lastSamples  string
	startCalls   int
	stopCalls    int
	historyCalls int
}

func (m *mockRuns) Compile(text string) (service.CompileResult, error) {
	m.lastCompile = text
	return m.compileRes, m.compileErr
}
func (m *mockRuns) Start(ctx context.Context, p service.StartParams) (service.StartResult, error) {
	m.startCalls++
	m.lastStart = p
	return m.startRes, m.startErr
}
func (m *mockRuns) Stop(ctx context.Context, target string) error {
	m.stopCalls++
	m.lastStop = target
	return m.stopErr
}
func (m *mockRuns) Status(ctx context.Context) []service.ChannelStatus {
	return m.status
}
func (m *mockRuns) History(ctx context.Context, limit int) ([]models.RunRecord, error) {
	m.historyCalls++
	m.lastLimit = limit
	return m.history, m.historyErr
}

func (m *mockRuns) Samples(ctx context.Context, runID string) ([]models.Sample, error) {
	m.lastSamples = runID
	return m.samples, m.samplesErr
}

type mockMonitoring struct {
	snap service.Snapshot
}

func (m *mockMonitoring) Snapshot(ctx context.Context) service.Snapshot {
	return m.snap
}

type mockBoard struct {
	state     service.BoardState
	err       error
	lastFrame device.HeaterFrame
	lastStop  int
	calls     []string
}

func (m *mockBoard) SetBacklight(ctx context.Context, on bool) error {
	m.calls = append(m.calls, "backlight")
	if m.err == nil {
		m.state.Backlight = on
	}
	return m.err
}
func (m *mockBoard) SetMagnet(ctx context.Context, on bool) error {
	m.calls = append(m.calls, "magnet")
	if m.err == nil {
		m.state.Magnet = on
	}
	return m.err
}
func (m *mockBoard) RunHeaterProgram(ctx context.Context, f device.HeaterFrame) error {
	m.calls = append(m.calls, "pcr")
	m.lastFrame = f
	return m.err
}
func (m *mockBoard) StopHeaterProgram(ctx context.Context, heater int) error {
	m.calls = append(m.calls, "pcr_stop")
	m.lastStop = heater
	return m.err
}
func (m *mockBoard) State() service.BoardState { return m.state }

type mockEventLog struct {
	resp     []models.RunEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.RunEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// authed builds a request carrying a valid bearer token.
// testToken is the bearer token authed attaches; mockAuth accepts any token.
const testToken = "valid"

func authed(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	for k, vv := range authHeader(testToken) {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
