// fake_cloud_server emulates the device cloud API for local development
// and load testing. It verifies request signatures the same way the
// real cloud does and serves synthetic, slowly drifting telemetry for a
// configurable fleet of serials.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type fakeCloudServer struct {
	accessKey string
	secretKey string
	latency   time.Duration
	failRate  float64

	mu         sync.Mutex
	fleet      map[string]*deviceState
	totalCalls int64
	badSigns   int64
}

type deviceState struct {
	SN       string
	Name     string
	Product  string
	Soc      float64
	InWatts  float64
	OutWatts float64
	TempC    float64
}

func main() {
	addr := getenvDefault("FAKE_CLOUD_ADDR", ":18080")
	accessKey := getenvDefault("FAKE_CLOUD_ACCESS_KEY", "demo-access")
	secretKey := getenvDefault("FAKE_CLOUD_SECRET_KEY", "demo-secret")
	serials := strings.Split(getenvDefault("FAKE_CLOUD_SERIALS", "R331ZEB4ZEAA0001,R331ZEB4ZEAA0002"), ",")
	latencyMs := getenvIntDefault("FAKE_CLOUD_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_CLOUD_FAIL_RATE", 0)

	srv := &fakeCloudServer{
		accessKey: accessKey,
		secretKey: secretKey,
		latency:   time.Duration(latencyMs) * time.Millisecond,
		failRate:  failRate,
		fleet:     map[string]*deviceState{},
	}
	for i, sn := range serials {
		sn = strings.TrimSpace(sn)
		if sn == "" {
			continue
		}
		srv.fleet[sn] = &deviceState{
			SN:       sn,
			Name:     fmt.Sprintf("Station %d", i+1),
			Product:  "RIVER 2 Pro",
			Soc:      40 + rand.Float64()*50,
			InWatts:  rand.Float64() * 200,
			OutWatts: rand.Float64() * 300,
			TempC:    25 + rand.Float64()*10,
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/iot-open/sign/device/list", srv.handleDeviceList)
	mux.HandleFunc("/iot-open/sign/device/quota/all", srv.handleDeviceQuota)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Printf("fake cloud server listening on %s devices=%d", addr, len(srv.fleet))
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (s *fakeCloudServer) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	if !s.prepare(w, r, nil) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]map[string]any, 0, len(s.fleet))
	for _, device := range s.fleet {
		list = append(list, map[string]any{
			"sn":          device.SN,
			"deviceName":  device.Name,
			"productName": device.Product,
			"online":      1,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i]["sn"].(string) < list[j]["sn"].(string)
	})
	writeEnvelope(w, list)
}

func (s *fakeCloudServer) handleDeviceQuota(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("sn")
	if !s.prepare(w, r, map[string]string{"sn": sn}) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.fleet[sn]
	if !ok {
		writeError(w, "8521", "device not bound")
		return
	}
	device.drift()
	writeEnvelope(w, device.quota())
}

func (s *fakeCloudServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    atomic.LoadInt64(&s.totalCalls),
		"bad_signatures": atomic.LoadInt64(&s.badSigns),
	})
}

// prepare applies latency and fault injection and verifies the request
// signature. It writes the response itself when the request is rejected.
func (s *fakeCloudServer) prepare(w http.ResponseWriter, r *http.Request, params map[string]string) bool {
	atomic.AddInt64(&s.totalCalls, 1)
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		w.WriteHeader(http.StatusBadGateway)
		return false
	}

	accessKey := r.Header.Get("accessKey")
	nonce := r.Header.Get("nonce")
	timestamp := r.Header.Get("timestamp")
	sign := r.Header.Get("sign")
	if accessKey != s.accessKey {
		atomic.AddInt64(&s.badSigns, 1)
		writeError(w, "401", "invalid access key")
		return false
	}
	expected := signPayload(s.secretKey, params, accessKey, nonce, timestamp)
	if !hmac.Equal([]byte(expected), []byte(sign)) {
		atomic.AddInt64(&s.badSigns, 1)
		writeError(w, "401", "signature mismatch")
		return false
	}
	return true
}

// signPayload mirrors the canonical request signature: params plus the
// credential triple, keys sorted, joined k=v with &, HMAC-SHA256 hex.
func signPayload(secretKey string, params map[string]string, accessKey, nonce, timestamp string) string {
	merged := make(map[string]string, len(params)+3)
	for key, value := range params {
		merged[key] = value
	}
	merged["accessKey"] = accessKey
	merged["nonce"] = nonce
	merged["timestamp"] = timestamp

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+merged[key])
	}
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// drift nudges the synthetic telemetry so consecutive polls differ.
func (d *deviceState) drift() {
	d.Soc += (rand.Float64() - 0.5) * 2
	if d.Soc < 0 {
		d.Soc = 0
	}
	if d.Soc > 100 {
		d.Soc = 100
	}
	d.InWatts += (rand.Float64() - 0.5) * 40
	if d.InWatts < 0 {
		d.InWatts = 0
	}
	d.OutWatts += (rand.Float64() - 0.5) * 60
	if d.OutWatts < 0 {
		d.OutWatts = 0
	}
	d.TempC += (rand.Float64() - 0.5)
}

func (d *deviceState) quota() map[string]any {
	entry := func(val float64, scale int) map[string]any {
		return map[string]any{"val": val, "scale": scale}
	}
	return map[string]any{
		"bms_bmsStatus.soc":  entry(d.Soc, 0),
		"bms_bmsStatus.temp": entry(d.TempC, 0),
		"pd.soc":             entry(d.Soc, 0),
		"pd.wattsInSum":      entry(d.InWatts, 0),
		"pd.wattsOutSum":     entry(d.OutWatts, 0),
		"inv.inputWatts":     entry(d.InWatts*0.8, 0),
		"inv.outputWatts":    entry(d.OutWatts*0.7, 0),
		"mppt.inWatts":       entry(d.InWatts*0.2*10, 1),
		"pd.carWatts":        entry(d.OutWatts*0.1, 0),
		"pd.remainTime":      entry(120+rand.Float64()*600, 0),
		"pd.chgPowerType":    entry(1, 0),
	}
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    "0",
		"message": "Success",
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
	})
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
