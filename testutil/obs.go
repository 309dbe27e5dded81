package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

const (
	obsSalt      = "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI="
	obsChallenge = "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY="
)

// OBSRequest is one request received by OBSServer.
type OBSRequest struct {
	RequestType string
	Data        map[string]any
}

// OBSServer is a minimal obs-websocket v5 server.
type OBSServer struct {
	Host     string
	Port     string
	Password string
	// Version is reported in Hello; defaults to 5.4.2.
	Version string

	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	inputs   []map[string]string
	requests []OBSRequest
	fail     map[string]string
	conns    map[*websocket.Conn]struct{}
	identify int
}

// NewOBSServer starts a fake OBS. An empty password disables authentication.
func NewOBSServer(t testing.TB, password string) *OBSServer {
	t.Helper()
	s := &OBSServer{
		Password: password,
		Version:  "5.4.2",
		fail:     make(map[string]string),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	host, port, _ := net.SplitHostPort(strings.TrimPrefix(s.srv.URL, "http://"))
	s.Host, s.Port = host, port
	t.Cleanup(s.Close)
	return s
}

// Close drops every connection and stops the server.
func (s *OBSServer) Close() {
	s.DropConnections()
	s.srv.Close()
}

// SetInputs replaces the input list; each entry is name -> kind.
func (s *OBSServer) SetInputs(inputs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = s.inputs[:0]
	for name, kind := range inputs {
		s.inputs = append(s.inputs, map[string]string{"inputName": name, "inputKind": kind})
	}
}

// FailRequests makes every request of requestType fail with comment until cleared with "".
func (s *OBSServer) FailRequests(requestType, comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comment == "" {
		delete(s.fail, requestType)
		return
	}
	s.fail[requestType] = comment
}

// Requests returns the requests received so far.
func (s *OBSServer) Requests() []OBSRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OBSRequest(nil), s.requests...)
}

// RequestsOf returns the requests of one type.
func (s *OBSServer) RequestsOf(requestType string) []OBSRequest {
	var out []OBSRequest
	for _, r := range s.Requests() {
		if r.RequestType == requestType {
			out = append(out, r)
		}
	}
	return out
}

// Identifications counts completed Identify handshakes.
func (s *OBSServer) Identifications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identify
}

// Connections counts open sockets.
func (s *OBSServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every open socket as if OBS had quit.
func (s *OBSServer) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

type obsMessage struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func send(c *websocket.Conn, op int, d any) error {
	raw, _ := json.Marshal(d)
	return c.WriteJSON(obsMessage{Op: op, D: raw})
}

func obsAuth(password string) string {
	s := sha256.Sum256([]byte(password + obsSalt))
	secret := base64.StdEncoding.EncodeToString(s[:])
	a := sha256.Sum256([]byte(secret + obsChallenge))
	return base64.StdEncoding.EncodeToString(a[:])
}

func (s *OBSServer) serve(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	hello := map[string]any{"obsWebSocketVersion": s.Version, "rpcVersion": 1}
	if s.Password != "" {
		hello["authentication"] = map[string]string{"challenge": obsChallenge, "salt": obsSalt}
	}
	if err := send(c, 0, hello); err != nil {
		return
	}
	var msg obsMessage
	if err := c.ReadJSON(&msg); err != nil || msg.Op != 1 {
		return
	}
	var id struct {
		Authentication string `json:"authentication"`
	}
	_ = json.Unmarshal(msg.D, &id)
	if s.Password != "" && id.Authentication != obsAuth(s.Password) {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4009, "Authentication failed."))
		return
	}
	if err := send(c, 2, map[string]int{"negotiatedRpcVersion": 1}); err != nil {
		return
	}
	s.mu.Lock()
	s.identify++
	s.mu.Unlock()

	for {
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != 6 {
			continue
		}
		var req struct {
			RequestType string         `json:"requestType"`
			RequestID   string         `json:"requestId"`
			RequestData map[string]any `json:"requestData"`
		}
		_ = json.Unmarshal(msg.D, &req)
		resp := s.handle(req.RequestType, req.RequestData)
		resp["requestType"] = req.RequestType
		resp["requestId"] = req.RequestID
		if err := send(c, 7, resp); err != nil {
			return
		}
	}
}

func (s *OBSServer) handle(requestType string, data map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, OBSRequest{RequestType: requestType, Data: data})
	if comment, ok := s.fail[requestType]; ok {
		return map[string]any{"requestStatus": map[string]any{"result": false, "code": 600, "comment": comment}}
	}
	ok := map[string]any{"result": true, "code": 100}
	switch requestType {
	case "GetVersion":
		return map[string]any{"requestStatus": ok, "responseData": map[string]any{"obsWebSocketVersion": s.Version, "obsVersion": "30.1.0"}}
	case "GetInputList":
		inputs := append([]map[string]string{}, s.inputs...)
		return map[string]any{"requestStatus": ok, "responseData": map[string]any{"inputs": inputs}}
	case "SetInputSettings", "PressInputPropertiesButton":
		return map[string]any{"requestStatus": ok}
	}
	return map[string]any{"requestStatus": map[string]any{"result": false, "code": 204, "comment": "unknown request type"}}
}
