package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/custodia-dev/custodia/pkg/schema"
	"github.com/custodia-dev/custodia/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	command := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	// keygen works offline; everything else talks to the daemon.
	if command == "keygen" {
		keygen(args)
		return
	}

	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = "localhost:7101"
	}

	client, err := sdk.Connect(addr)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	defer client.Close()

	switch command {
	case "create":
		if len(args) < 2 {
			log.Fatal("Usage: custodia create <owner> <guardian> [security-period-seconds]")
		}
		owner := parseIdentity(args[0])
		guardian := parseIdentity(args[1])
		var period int64
		if len(args) > 2 {
			period, err = strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				log.Fatalf("Invalid security period: %v", err)
			}
		}
		key, err := client.Create(owner, guardian, period)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(key)

	case "show":
		if len(args) < 1 {
			log.Fatal("Usage: custodia show <account>")
		}
		rec, err := client.Account(parseKey(args[0]))
		if err != nil {
			log.Fatal(err)
		}
		printJSON(rec)

	case "list":
		keys, err := client.Accounts()
		if err != nil {
			log.Fatal(err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}

	case "audit":
		events, err := client.AuditTrail()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(events)

	case "change-owner":
		if len(args) < 3 {
			log.Fatal("Usage: custodia change-owner <account> <new-owner> <new-owner-signature-hex> <keyfile>...")
		}
		sig, err := hex.DecodeString(args[2])
		if err != nil {
			log.Fatalf("Invalid signature hex: %v", err)
		}
		run(client.ChangeOwner(parseKey(args[0]), parseIdentity(args[1]), sig, loadCreds(args[3:])...))

	case "change-guardian":
		if len(args) < 2 {
			log.Fatal("Usage: custodia change-guardian <account> <new-guardian> <keyfile>...")
		}
		run(client.ChangeGuardian(parseKey(args[0]), parseIdentity(args[1]), loadCreds(args[2:])...))

	case "change-backup":
		if len(args) < 2 {
			log.Fatal("Usage: custodia change-backup <account> <new-backup|-> <keyfile>...")
		}
		var backup *schema.Identity
		if args[1] != "-" {
			id := parseIdentity(args[1])
			backup = &id
		}
		run(client.ChangeGuardianBackup(parseKey(args[0]), backup, loadCreds(args[2:])...))

	case "execute":
		if len(args) < 2 {
			log.Fatal("Usage: custodia execute <account> <payload-hex> <keyfile>...")
		}
		data, err := hex.DecodeString(args[1])
		if err != nil {
			log.Fatalf("Invalid payload hex: %v", err)
		}
		run(client.Execute(parseKey(args[0]), data, loadCreds(args[2:])...))

	case "trigger-escape-guardian":
		if len(args) < 1 {
			log.Fatal("Usage: custodia trigger-escape-guardian <account> <keyfile>...")
		}
		run(client.TriggerEscapeGuardian(parseKey(args[0]), loadCreds(args[1:])...))

	case "trigger-escape-owner":
		if len(args) < 1 {
			log.Fatal("Usage: custodia trigger-escape-owner <account> <keyfile>...")
		}
		run(client.TriggerEscapeOwner(parseKey(args[0]), loadCreds(args[1:])...))

	case "escape-guardian":
		if len(args) < 2 {
			log.Fatal("Usage: custodia escape-guardian <account> <new-guardian> <keyfile>...")
		}
		run(client.EscapeGuardian(parseKey(args[0]), parseIdentity(args[1]), loadCreds(args[2:])...))

	case "escape-owner":
		if len(args) < 2 {
			log.Fatal("Usage: custodia escape-owner <account> <new-owner> <keyfile>...")
		}
		run(client.EscapeOwner(parseKey(args[0]), parseIdentity(args[1]), loadCreds(args[2:])...))

	case "cancel-escape":
		if len(args) < 1 {
			log.Fatal("Usage: custodia cancel-escape <account> <keyfile>...")
		}
		run(client.CancelEscape(parseKey(args[0]), loadCreds(args[1:])...))

	case "upgrade":
		if len(args) < 1 {
			log.Fatal("Usage: custodia upgrade <account> <keyfile>...")
		}
		run(client.Upgrade(parseKey(args[0]), loadCreds(args[1:])...))

	default:
		printUsage()
	}
}

func keygen(args []string) {
	if len(args) < 1 {
		log.Fatal("Usage: custodia keygen <keyfile>")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("Key generation failed: %v", err)
	}
	if err := os.WriteFile(args[0], []byte(hex.EncodeToString(priv)+"\n"), 0600); err != nil {
		log.Fatalf("Could not write key file: %v", err)
	}
	fmt.Println(hex.EncodeToString(pub))
}

// loadCreds reads hex-encoded Ed25519 private keys, one per file.
func loadCreds(files []string) []sdk.Credential {
	creds := make([]sdk.Credential, 0, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("Could not read key file %s: %v", f, err)
		}
		priv, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			log.Fatalf("Key file %s is not valid hex: %v", f, err)
		}
		cred, err := sdk.NewCredential(priv)
		if err != nil {
			log.Fatalf("Key file %s: %v", f, err)
		}
		creds = append(creds, cred)
	}
	return creds
}

func parseIdentity(s string) schema.Identity {
	id, err := schema.ParseIdentity(s)
	if err != nil {
		log.Fatal(err)
	}
	return id
}

func parseKey(s string) schema.RecordKey {
	key, err := schema.ParseRecordKey(s)
	if err != nil {
		log.Fatal(err)
	}
	return key
}

func run(err error) {
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("OK")
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Println(`Custodia CLI

Key management:
  custodia keygen <keyfile>

Account operations:
  custodia create <owner> <guardian> [security-period-seconds]
  custodia show <account>
  custodia list
  custodia audit

Dual-signed mutations (each <keyfile> co-signs):
  custodia change-owner <account> <new-owner> <new-owner-signature-hex> <keyfile>...
  custodia change-guardian <account> <new-guardian> <keyfile>...
  custodia change-backup <account> <new-backup|-> <keyfile>...
  custodia execute <account> <payload-hex> <keyfile>...
  custodia upgrade <account> <keyfile>...

Escape state machine:
  custodia trigger-escape-guardian <account> <keyfile>...
  custodia trigger-escape-owner <account> <keyfile>...
  custodia escape-guardian <account> <new-guardian> <keyfile>...
  custodia escape-owner <account> <new-owner> <keyfile>...
  custodia cancel-escape <account> <keyfile>...

Environment:
  CUSTODIA_ADDR         daemon address (default localhost:7101)
  CUSTODIA_DISABLE_TLS  "true" to use plain TCP`)
}
