package server

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/custodia-dev/custodia/internal/engine"
	"github.com/custodia-dev/custodia/internal/vault"
	"github.com/custodia-dev/custodia/pkg/schema"
	"github.com/custodia-dev/custodia/pkg/sdk"
)

type fakeClock struct {
	now int64
}

func (c *fakeClock) Now() int64 { return c.now }

func ident(b byte) schema.Identity {
	var id schema.Identity
	id[0] = b
	return id
}

// startRouter runs the router on a random port and returns the port once
// the listener is up.
func startRouter(t *testing.T, router *Router) string {
	t.Helper()
	go router.Listen("0")

	for i := 0; i < 10; i++ {
		time.Sleep(50 * time.Millisecond)
		router.mu.Lock()
		if router.listener != nil {
			port := fmt.Sprintf("%d", router.listener.Addr().(*net.TCPAddr).Port)
			router.mu.Unlock()
			t.Cleanup(router.Stop)
			return port
		}
		router.mu.Unlock()
	}
	t.Fatalf("Server did not start in time")
	return ""
}

func dialRouter(t *testing.T, port string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", "127.0.0.1:"+port)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func requestLine(t *testing.T, command string, req sdk.Request) string {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshaling request failed: %v", err)
	}
	return command + " " + string(body) + "\n"
}

func TestRouter_TCPCommands(t *testing.T) {
	clock := &fakeClock{now: 1000}
	eng := engine.NewEngine(nil, nil, engine.Options{Clock: clock})
	router := NewRouter(eng, vault.SignerResolver{Trusted: true})
	port := startRouter(t, router)

	conn, reader := dialRouter(t, port)

	// Test PING
	fmt.Fprintf(conn, "PING\n")
	line, _ := reader.ReadString('\n')
	if line != "PONG\n" {
		t.Errorf("Expected PONG, got %q", line)
	}

	// Test CREATE
	params, _ := json.Marshal(sdk.CreateParams{Owner: ident(1), Guardian: ident(2), SecurityPeriod: 60})
	fmt.Fprint(conn, requestLine(t, "CREATE", sdk.Request{Params: params}))
	line, _ = reader.ReadString('\n')
	key := schema.DeriveRecordKey(ident(1), ident(2))
	if line != fmt.Sprintf("OK {\"account\":%q}\n", key) {
		t.Errorf("Unexpected CREATE response: %q", line)
	}

	// Test LIST
	fmt.Fprintf(conn, "LIST\n")
	line, _ = reader.ReadString('\n')
	if line != fmt.Sprintf("OK [%q]\n", key) {
		t.Errorf("Unexpected LIST response: %q", line)
	}

	// Test CHANGE_GUARDIAN with only one asserted signer
	params, _ = json.Marshal(sdk.ChangeGuardianParams{NewGuardian: ident(5)})
	fmt.Fprint(conn, requestLine(t, "CHANGE_GUARDIAN", sdk.Request{
		Account: key,
		Params:  params,
		Signers: []schema.Identity{ident(1)},
	}))
	line, _ = reader.ReadString('\n')
	if line != "ERR not enough approvals\n" {
		t.Errorf("Expected approvals error, got %q", line)
	}

	// Test CHANGE_GUARDIAN with both signers
	fmt.Fprint(conn, requestLine(t, "CHANGE_GUARDIAN", sdk.Request{
		Account: key,
		Params:  params,
		Signers: []schema.Identity{ident(1), ident(2)},
	}))
	line, _ = reader.ReadString('\n')
	if line != "OK {\"status\":\"success\"}\n" {
		t.Errorf("Unexpected CHANGE_GUARDIAN response: %q", line)
	}

	// Test GET reflects the rotation
	fmt.Fprintf(conn, "GET %s\n", key)
	line, _ = reader.ReadString('\n')
	var rec schema.AccountRecord
	if !strings.HasPrefix(line, "OK ") {
		t.Fatalf("Expected OK response, got %q", line)
	}
	if err := json.Unmarshal([]byte(line[3:]), &rec); err != nil {
		t.Fatalf("Decoding GET response failed: %v", err)
	}
	if rec.Guardian != ident(5) {
		t.Errorf("Expected guardian %s, got %s", ident(5), rec.Guardian)
	}

	// Test GET for a missing record
	fmt.Fprintf(conn, "GET %s\n", schema.DeriveRecordKey(ident(8), ident(9)))
	line, _ = reader.ReadString('\n')
	if !strings.HasPrefix(line, "ERR") {
		t.Errorf("Expected ERR, got %q", line)
	}
}

func TestRouter_SignedMutation(t *testing.T) {
	clock := &fakeClock{now: 1000}
	eng := engine.NewEngine(nil, nil, engine.Options{Clock: clock})

	ownerPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	guardianPub, guardianPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	var owner, guardian schema.Identity
	copy(owner[:], ownerPub)
	copy(guardian[:], guardianPub)

	key, err := eng.Create(owner, guardian, 60)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Strict resolver: asserted signers do not count, only proofs.
	router := NewRouter(eng, vault.SignerResolver{})
	port := startRouter(t, router)
	conn, reader := dialRouter(t, port)

	fmt.Fprint(conn, requestLine(t, "TRIGGER_ESCAPE_OWNER", sdk.Request{
		Account: key,
		Signers: []schema.Identity{guardian},
	}))
	line, _ := reader.ReadString('\n')
	if line != "ERR not enough approvals\n" {
		t.Errorf("Unproven request passed: %q", line)
	}

	digest := vault.SigningDigest(key, sdk.OpTriggerEscapeOwner, nil)
	fmt.Fprint(conn, requestLine(t, "TRIGGER_ESCAPE_OWNER", sdk.Request{
		Account: key,
		Proofs:  []schema.Proof{vault.SignDigest(digest, guardianPriv)},
	}))
	line, _ = reader.ReadString('\n')
	if line != "OK {\"status\":\"success\"}\n" {
		t.Errorf("Signed request failed: %q", line)
	}

	rec, err := eng.Account(key)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if rec.EscapeType != schema.EscapeOwner {
		t.Errorf("Expected owner escape armed, got %s", rec.EscapeType)
	}
}

func TestRouter_MalformedCommands(t *testing.T) {
	eng := engine.NewEngine(nil, nil, engine.Options{})
	router := NewRouter(eng, vault.SignerResolver{Trusted: true})
	port := startRouter(t, router)
	conn, reader := dialRouter(t, port)

	// Unknown command
	fmt.Fprintf(conn, "NONSENSE {}\n")
	line, _ := reader.ReadString('\n')
	if !strings.HasPrefix(line, "ERR") {
		t.Errorf("Expected ERR for unknown command, got %q", line)
	}

	// Broken JSON envelope
	fmt.Fprintf(conn, "CREATE {invalid}\n")
	line, _ = reader.ReadString('\n')
	if !strings.HasPrefix(line, "ERR") {
		t.Errorf("Expected ERR for broken JSON, got %q", line)
	}

	// The connection survives
	fmt.Fprintf(conn, "PING\n")
	line, _ = reader.ReadString('\n')
	if line != "PONG\n" {
		t.Errorf("Expected PONG, got %q", line)
	}
}

func TestRouter_ConcurrentConnections(t *testing.T) {
	eng := engine.NewEngine(nil, nil, engine.Options{})
	router := NewRouter(eng, vault.SignerResolver{Trusted: true})
	port := startRouter(t, router)

	conns := make([]net.Conn, 0)
	for i := 0; i < 110; i++ {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:"+port, 100*time.Millisecond)
		if err == nil {
			conns = append(conns, conn)
		}
	}

	for _, c := range conns {
		c.Close()
	}
}
