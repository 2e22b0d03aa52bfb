// Package server exposes the custody operations over a TCP line
// protocol: one request per line, "COMMAND <json>", answered with
// "OK <json>" or "ERR <message>".
package server

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/custodia-dev/custodia/internal/engine"
	"github.com/custodia-dev/custodia/internal/vault"
	"github.com/custodia-dev/custodia/pkg/schema"
	"github.com/custodia-dev/custodia/pkg/sdk"
)

type Router struct {
	eng      *engine.Engine
	resolver vault.SignerResolver
	cert     *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

func NewRouter(eng *engine.Engine, resolver vault.SignerResolver) *Router {
	return &Router{eng: eng, resolver: resolver}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Stop closes the listener; Listen returns once the accept loop notices.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.listener != nil {
		r.listener.Close()
	}
}

// Listen starts the TCP server
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}
	defer listener.Close()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()

	semaphore := make(chan struct{}, 100) // Max 100 concurrent connections

	for {
		conn, err := listener.Accept()
		if err != nil {
			r.mu.Lock()
			stopped := r.stopped
			r.mu.Unlock()
			if stopped {
				return nil
			}
			continue
		}

		conn.SetDeadline(time.Now().Add(5 * time.Minute))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.handleConnection(c)
		}(conn)
	}
}

func (r *Router) handleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
		command = strings.ToUpper(command)
		if command == "" {
			continue
		}

		switch command {
		case "PING":
			fmt.Fprintln(conn, "PONG")
			continue
		case "QUIT":
			return
		}

		result, err := r.dispatch(command, rest)
		if err != nil {
			fmt.Fprintln(conn, "ERR", err)
			continue
		}
		res, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintln(conn, "ERR internal error")
			continue
		}
		fmt.Fprintln(conn, "OK", string(res))
	}
}

// dispatch runs one command and returns the value serialized into the OK
// response.
func (r *Router) dispatch(command, rest string) (any, error) {
	switch command {
	case "GET":
		key, err := schema.ParseRecordKey(strings.TrimSpace(rest))
		if err != nil {
			return nil, err
		}
		return r.eng.Account(key)

	case "LIST":
		return r.eng.Accounts()

	case "AUDIT":
		return r.eng.AuditTrail()

	case "CREATE":
		var req sdk.Request
		if err := json.Unmarshal([]byte(rest), &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		var params sdk.CreateParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		key, err := r.eng.Create(params.Owner, params.Guardian, params.SecurityPeriod)
		if err != nil {
			return nil, err
		}
		return map[string]any{"account": key}, nil
	}

	// Everything else is a gated mutation with the shared envelope.
	op := strings.ToLower(command)
	var req sdk.Request
	if err := json.Unmarshal([]byte(rest), &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	signers := r.resolver.Resolve(req.Account, op, req.Params, req.Signers, req.Proofs)

	var opErr error
	switch op {
	case sdk.OpChangeOwner:
		var params sdk.ChangeOwnerParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		opErr = r.eng.ChangeOwner(req.Account, params.NewOwner, params.NewOwnerSignature, signers)

	case sdk.OpChangeGuardian:
		var params sdk.ChangeGuardianParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		opErr = r.eng.ChangeGuardian(req.Account, params.NewGuardian, signers)

	case sdk.OpChangeGuardianBackup:
		var params sdk.ChangeGuardianBackupParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		opErr = r.eng.ChangeGuardianBackup(req.Account, params.NewBackup, signers)

	case sdk.OpExecute:
		var params sdk.ExecuteParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		opErr = r.eng.Execute(req.Account, params.Data, signers)

	case sdk.OpTriggerEscapeGuardian:
		opErr = r.eng.TriggerEscapeGuardian(req.Account, signers)

	case sdk.OpTriggerEscapeOwner:
		opErr = r.eng.TriggerEscapeOwner(req.Account, signers)

	case sdk.OpEscapeGuardian:
		var params sdk.EscapeGuardianParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		opErr = r.eng.EscapeGuardian(req.Account, params.NewGuardian, signers)

	case sdk.OpEscapeOwner:
		var params sdk.EscapeOwnerParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		opErr = r.eng.EscapeOwner(req.Account, params.NewOwner, signers)

	case sdk.OpCancelEscape:
		opErr = r.eng.CancelEscape(req.Account, signers)

	case sdk.OpUpgrade:
		opErr = r.eng.Upgrade(req.Account, signers)

	default:
		return nil, fmt.Errorf("unknown command %s", command)
	}

	if opErr != nil {
		return nil, opErr
	}
	return map[string]any{"status": "success"}, nil
}
