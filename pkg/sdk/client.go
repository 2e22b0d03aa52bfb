package sdk

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/custodia-dev/custodia/internal/vault"
	"github.com/custodia-dev/custodia/pkg/schema"
)

// Client is a remote client for a Custodia daemon. It implements the
// Custodian interface over the TCP line protocol.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

// Connect establishes a TLS-encrypted connection to a remote Custodia
// daemon. If CUSTODIA_DISABLE_TLS is set to "true", it falls back to
// plain TCP.
func Connect(addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if os.Getenv("CUSTODIA_DISABLE_TLS") == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // We use self-signed certs for internal traffic
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}

	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Internal helper for TCP communication
func (c *Client) sendAndReceive(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	var resp string

	// Try up to 3 times with exponential backoff
	for i := 0; i < 3; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		_, err = fmt.Fprint(c.conn, cmd+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if strings.HasPrefix(resp, "ERR") {
					return "", fmt.Errorf("%s", strings.TrimPrefix(resp, "ERR "))
				}
				return strings.TrimPrefix(resp, "OK "), nil
			}
		}

		fmt.Fprintf(os.Stderr, "[Custodia SDK] Attempt %d failed: %v. Reconnecting...\n", i+1, err)

		if closeErr := c.reconnect(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "[Custodia SDK] Reconnect attempt failed: %v\n", closeErr)
		}

		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after 3 attempts. last error: %v", err)
}

// submit marshals params, signs the request digest with every credential,
// and sends the operation as a single line.
func (c *Client) submit(op string, account schema.RecordKey, params any, creds []Credential) (string, error) {
	req := Request{Account: account}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", err
		}
		req.Params = raw
	}

	digest := vault.SigningDigest(account, op, req.Params)
	for _, cred := range creds {
		req.Proofs = append(req.Proofs, vault.SignDigest(digest, cred.key))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return c.sendAndReceive(strings.ToUpper(op) + " " + string(body))
}

func (c *Client) Create(owner, guardian schema.Identity, securityPeriod int64) (schema.RecordKey, error) {
	resp, err := c.submit(OpCreate, schema.RecordKey{}, CreateParams{
		Owner:          owner,
		Guardian:       guardian,
		SecurityPeriod: securityPeriod,
	}, nil)
	if err != nil {
		return schema.RecordKey{}, err
	}
	var out struct {
		Account schema.RecordKey `json:"account"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return schema.RecordKey{}, err
	}
	return out.Account, nil
}

func (c *Client) Account(key schema.RecordKey) (*schema.AccountRecord, error) {
	resp, err := c.sendAndReceive("GET " + key.String())
	if err != nil {
		return nil, err
	}
	var rec schema.AccountRecord
	if err := json.Unmarshal([]byte(resp), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Accounts() ([]schema.RecordKey, error) {
	resp, err := c.sendAndReceive("LIST")
	if err != nil {
		return nil, err
	}
	var keys []schema.RecordKey
	if err := json.Unmarshal([]byte(resp), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *Client) ChangeOwner(key schema.RecordKey, newOwner schema.Identity, newOwnerSig []byte, creds ...Credential) error {
	_, err := c.submit(OpChangeOwner, key, ChangeOwnerParams{
		NewOwner:          newOwner,
		NewOwnerSignature: newOwnerSig,
	}, creds)
	return err
}

func (c *Client) ChangeGuardian(key schema.RecordKey, newGuardian schema.Identity, creds ...Credential) error {
	_, err := c.submit(OpChangeGuardian, key, ChangeGuardianParams{NewGuardian: newGuardian}, creds)
	return err
}

func (c *Client) ChangeGuardianBackup(key schema.RecordKey, newBackup *schema.Identity, creds ...Credential) error {
	_, err := c.submit(OpChangeGuardianBackup, key, ChangeGuardianBackupParams{NewBackup: newBackup}, creds)
	return err
}

func (c *Client) Execute(key schema.RecordKey, data []byte, creds ...Credential) error {
	_, err := c.submit(OpExecute, key, ExecuteParams{Data: data}, creds)
	return err
}

func (c *Client) Upgrade(key schema.RecordKey, creds ...Credential) error {
	_, err := c.submit(OpUpgrade, key, nil, creds)
	return err
}

func (c *Client) TriggerEscapeGuardian(key schema.RecordKey, creds ...Credential) error {
	_, err := c.submit(OpTriggerEscapeGuardian, key, nil, creds)
	return err
}

func (c *Client) TriggerEscapeOwner(key schema.RecordKey, creds ...Credential) error {
	_, err := c.submit(OpTriggerEscapeOwner, key, nil, creds)
	return err
}

func (c *Client) EscapeGuardian(key schema.RecordKey, newGuardian schema.Identity, creds ...Credential) error {
	_, err := c.submit(OpEscapeGuardian, key, EscapeGuardianParams{NewGuardian: newGuardian}, creds)
	return err
}

func (c *Client) EscapeOwner(key schema.RecordKey, newOwner schema.Identity, creds ...Credential) error {
	_, err := c.submit(OpEscapeOwner, key, EscapeOwnerParams{NewOwner: newOwner}, creds)
	return err
}

func (c *Client) CancelEscape(key schema.RecordKey, creds ...Credential) error {
	_, err := c.submit(OpCancelEscape, key, nil, creds)
	return err
}

func (c *Client) AuditTrail() ([]schema.AuditEvent, error) {
	resp, err := c.sendAndReceive("AUDIT")
	if err != nil {
		return nil, err
	}
	var events []schema.AuditEvent
	if err := json.Unmarshal([]byte(resp), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) Close() error {
	fmt.Fprintln(c.conn, "QUIT")
	return c.conn.Close()
}
