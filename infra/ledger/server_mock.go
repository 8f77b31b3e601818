package ledger

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/parlock/core/ledger"
	"github.com/kilianp07/parlock/core/logger"
	"github.com/kilianp07/parlock/core/model"
)

// RetrievalValidity is how long a withdrawal code stays usable after issue.
const RetrievalValidity = 15 * time.Minute

// MockConfig configures the in-memory ledger.
type MockConfig struct {
	Address          string
	LockerID         string
	VerificationCode string
}

// ActivityRecord is one request accepted by the mock.
type ActivityRecord struct {
	Activity ledger.Activity  `json:"activity"`
	Fields   map[string]string `json:"fields"`
	At       time.Time         `json:"at"`
}

type parcelRecord struct {
	id         int
	tracking   string
	unitID     string
	dims       model.Dimensions
	deposited  bool
	withdrawn  bool
	depositAt  time.Time
	retrievals int
}

// ServerMock is an in-memory ledger exposing the same HTTP surface as the
// production service, plus a few admin endpoints to seed it. It backs the
// ledger-mock command and end-to-end tests.
type ServerMock struct {
	addr     string
	lockerID string
	log      logger.Logger
	clock    clock.Clock
	srv      *http.Server

	total  *prometheus.CounterVec
	failed *prometheus.CounterVec

	mu         sync.Mutex
	code       string
	units      map[string]model.LockerUnit
	parcels    map[string]*parcelRecord
	byID       map[int]*parcelRecord
	nextID     int
	activities []ActivityRecord
}

// NewServerMock creates a mock using the default Prometheus registerer and
// the wall clock.
func NewServerMock(cfg MockConfig, log logger.Logger) *ServerMock {
	return NewServerMockWithRegistry(cfg, log, prometheus.DefaultRegisterer, clock.New())
}

// NewServerMockWithRegistry lets tests supply their own registerer and clock.
func NewServerMockWithRegistry(cfg MockConfig, log logger.Logger, reg prometheus.Registerer, clk clock.Clock) *ServerMock {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if clk == nil {
		clk = clock.New()
	}
	log = logger.OrNop(log)
	total := registerCounterVec(reg, log, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mock_requests_total",
		Help: "Requests accepted by the mock ledger",
	}, []string{"activity"}))
	failed := registerCounterVec(reg, log, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mock_requests_failed",
		Help: "Requests refused by the mock ledger",
	}, []string{"activity"}))
	return &ServerMock{
		addr:     cfg.Address,
		lockerID: cfg.LockerID,
		code:     cfg.VerificationCode,
		log:      log,
		clock:    clk,
		total:    total,
		failed:   failed,
		units:    map[string]model.LockerUnit{},
		parcels:  map[string]*parcelRecord{},
		byID:     map[int]*parcelRecord{},
		nextID:   1,
	}
}

func registerCounterVec(reg prometheus.Registerer, log logger.Logger, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if exist, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return exist
			}
			log.Errorf("existing collector has wrong type %T", are.ExistingCollector)
		}
	}
	return c
}

// AddUnit seeds the description returned on register.
func (s *ServerMock) AddUnit(u model.LockerUnit) {
	s.mu.Lock()
	s.units[u.ID] = u
	s.mu.Unlock()
}

// ExpectParcel declares a tracking number as registered for this locker.
func (s *ServerMock) ExpectParcel(tracking string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parcels[tracking]; ok {
		return
	}
	p := &parcelRecord{id: s.nextID, tracking: tracking}
	s.nextID++
	s.parcels[tracking] = p
	s.byID[p.id] = p
}

// IssueRetrievalCode returns a withdrawal code for a deposited parcel,
// stamped with the current time.
func (s *ServerMock) IssueRetrievalCode(tracking string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parcels[tracking]
	if !ok || !p.deposited || p.withdrawn {
		return "", fmt.Errorf("parcel %s cannot be withdrawn", tracking)
	}
	p.retrievals++
	return fmt.Sprintf("%s%d_%d", model.WithdrawalPrefix, p.id, s.clock.Now().Unix()), nil
}

// VerificationCode returns the code the mock currently accepts.
func (s *ServerMock) VerificationCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Unit returns the mock view of a unit.
func (s *ServerMock) Unit(id string) (model.LockerUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	return u, ok
}

// Activities returns a copy of the accepted requests in arrival order.
func (s *ServerMock) Activities() []ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ActivityRecord(nil), s.activities...)
}

func (s *ServerMock) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ledger/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("pong")); err != nil {
			s.log.Errorf("write pong: %v", err)
		}
	})
	mux.HandleFunc("POST /api/locker/{locker}/{activity}/", s.handleActivity)
	mux.HandleFunc("POST /admin/units", s.handleAddUnit)
	mux.HandleFunc("POST /admin/parcels", s.handleAddParcel)
	mux.HandleFunc("POST /admin/retrieval-codes", s.handleIssueCode)
	mux.HandleFunc("GET /admin/activities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Activities(), s.log)
	})
	return mux
}

// Handler exposes the routes for httptest servers.
func (s *ServerMock) Handler() http.Handler { return s.routes() }

func writeJSON(w http.ResponseWriter, status int, v any, log logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write response: %v", err)
	}
}

func (s *ServerMock) handleActivity(w http.ResponseWriter, r *http.Request) {
	a := ledger.Activity(r.PathValue("activity"))
	if !a.Valid() {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.failed.WithLabelValues(string(a)).Inc()
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if s.lockerID != "" && r.PathValue("locker") != s.lockerID {
		s.failed.WithLabelValues(string(a)).Inc()
		http.NotFound(w, r)
		return
	}
	if r.PostForm.Get("verification_code") != s.VerificationCode() {
		s.failed.WithLabelValues(string(a)).Inc()
		http.Error(w, "invalid verification code", http.StatusForbidden)
		return
	}
	resp, err := s.apply(a, r.PostForm)
	if err != nil {
		s.failed.WithLabelValues(string(a)).Inc()
		s.log.Warnf("%s refused: %v", a, err)
		writeJSON(w, http.StatusOK, response{Success: false, Message: err.Error()}, s.log)
		return
	}
	s.total.WithLabelValues(string(a)).Inc()
	resp.Success = true
	writeJSON(w, http.StatusOK, resp, s.log)
}

func (s *ServerMock) apply(a ledger.Activity, form map[string][]string) (response, error) {
	get := func(k string) string {
		if v := form[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var resp response
	switch a {
	case ledger.Online, ledger.Offline:
	case ledger.Register:
		u, ok := s.units[get("unit_id")]
		if !ok {
			return resp, fmt.Errorf("unit %q is not assigned to this locker", get("unit_id"))
		}
		avail := u.Available
		resp.Length, resp.Width, resp.Height = flexFloat(u.Dimensions.Length), flexFloat(u.Dimensions.Width), flexFloat(u.Dimensions.Height)
		resp.IsAvailable = &avail
	case ledger.ScanParcel:
		p, ok := s.parcels[get("tracking_number")]
		if !ok || p.deposited {
			return resp, fmt.Errorf("parcel %q not expected", get("tracking_number"))
		}
	case ledger.ScanDimensions:
		p, ok := s.parcels[get("tracking_number")]
		if !ok {
			return resp, fmt.Errorf("parcel %q unknown", get("tracking_number"))
		}
		p.dims = model.Dimensions{Length: parseF(get("length")), Width: parseF(get("width")), Height: parseF(get("height"))}
	case ledger.Deposit:
		p, ok := s.parcels[get("tracking_number")]
		if !ok || p.deposited {
			return resp, fmt.Errorf("parcel %q cannot be deposited", get("tracking_number"))
		}
		u, ok := s.units[get("unit_id")]
		if !ok {
			return resp, fmt.Errorf("unit %q unknown", get("unit_id"))
		}
		p.unitID = u.ID
		if get("complete") == "true" {
			p.deposited = true
			p.depositAt = s.clock.Now()
			u.Available = false
			s.units[u.ID] = u
		}
	case ledger.ScanRecipient:
		p, err := s.verifyRetrieval(get("qr_data"))
		if err != nil {
			return resp, err
		}
		resp.UnitID = flexString(p.unitID)
	case ledger.Withdraw:
		p, err := s.verifyRetrieval(get("qr_data"))
		if err != nil {
			return resp, err
		}
		if p.unitID != get("unit_id") {
			return resp, fmt.Errorf("parcel is not in unit %q", get("unit_id"))
		}
		if get("complete") == "true" {
			p.withdrawn = true
			u := s.units[p.unitID]
			u.Available = true
			s.units[p.unitID] = u
		}
	case ledger.ChangeVerifyCode:
		code, err := newVerificationCode()
		if err != nil {
			return resp, err
		}
		s.code = code
		resp.VerificationCode = code
	}

	fields := make(map[string]string, len(form))
	for k := range form {
		if k != "verification_code" {
			fields[k] = get(k)
		}
	}
	s.activities = append(s.activities, ActivityRecord{Activity: a, Fields: fields, At: s.clock.Now()})
	return resp, nil
}

// verifyRetrieval checks a withdraw_<parcel>_<unix> code. The code is valid
// while its age, truncated to whole minutes, is under the validity window.
func (s *ServerMock) verifyRetrieval(code string) (*parcelRecord, error) {
	parts := strings.SplitN(strings.ToLower(code), "_", 3)
	if len(parts) != 3 || parts[0]+"_" != model.WithdrawalPrefix {
		return nil, fmt.Errorf("malformed retrieval code")
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed retrieval code")
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed retrieval code")
	}
	p, ok := s.byID[id]
	if !ok || !p.deposited || p.withdrawn {
		return nil, fmt.Errorf("no parcel awaiting withdrawal")
	}
	age := s.clock.Now().Sub(time.Unix(ts, 0)).Truncate(time.Minute)
	if age >= RetrievalValidity {
		return nil, fmt.Errorf("retrieval code expired")
	}
	return p, nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

const codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newVerificationCode() (string, error) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

type unitRequest struct {
	ID          string  `json:"id"`
	Length      float64 `json:"length"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	IsAvailable *bool   `json:"is_available"`
}

func (s *ServerMock) handleAddUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	u := model.LockerUnit{ID: req.ID, Dimensions: model.Dimensions{Length: req.Length, Width: req.Width, Height: req.Height}, Available: true}
	if req.IsAvailable != nil {
		u.Available = *req.IsAvailable
	}
	if !u.Dimensions.Valid() {
		http.Error(w, "dimensions must be positive", http.StatusBadRequest)
		return
	}
	s.AddUnit(u)
	w.WriteHeader(http.StatusCreated)
}

type parcelRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

func (s *ServerMock) handleAddParcel(w http.ResponseWriter, r *http.Request) {
	var req parcelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingNumber == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.ExpectParcel(req.TrackingNumber)
	w.WriteHeader(http.StatusCreated)
}

func (s *ServerMock) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req parcelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingNumber == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	code, err := s.IssueRetrievalCode(req.TrackingNumber)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"qr_data": code}, s.log)
}

// Addr returns the listening address once Start has been called.
func (s *ServerMock) Addr() string { return s.addr }

// Start runs the HTTP server until the context is canceled.
func (s *ServerMock) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown server: %v", err)
		}
		cancel()
	}()
	s.log.Infof("ledger mock listening on %s", s.addr)
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
