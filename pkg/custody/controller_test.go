package custody

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/custodia-dev/custodia/pkg/schema"
)

type fakeClock struct {
	now int64
}

func (c *fakeClock) Now() int64 {
	return c.now
}

type recordingUpgrader struct {
	calls []UpgradeRequest
}

func (u *recordingUpgrader) Upgrade(req UpgradeRequest) error {
	u.calls = append(u.calls, req)
	return nil
}

func ident(b byte) schema.Identity {
	var id schema.Identity
	id[0] = b
	return id
}

func newTestRecord() *schema.AccountRecord {
	return &schema.AccountRecord{
		Owner:          ident(1),
		Guardian:       ident(2),
		SecurityPeriod: schema.DefaultSecurityPeriod,
	}
}

func newTestController(clock Clock) *Controller {
	return NewController(clock, &recordingUpgrader{}, zerolog.Nop())
}

var testSig = func() [schema.SignatureSize]byte {
	var sig [schema.SignatureSize]byte
	sig[0] = 0xAA
	return sig
}()

func bothSigned() SignerSet {
	return SignerSet{OwnerSigned: true, GuardianSigned: true}
}

func TestCoSigners(t *testing.T) {
	rec := newTestRecord()

	set := CoSigners(rec, nil)
	if set.OwnerSigned || set.GuardianSigned {
		t.Errorf("Expected empty signer set, got %+v", set)
	}

	set = CoSigners(rec, []schema.Identity{rec.Owner})
	if !set.OwnerSigned || set.GuardianSigned {
		t.Errorf("Expected owner only, got %+v", set)
	}

	set = CoSigners(rec, []schema.Identity{rec.Guardian, rec.Owner})
	if !set.Both() {
		t.Errorf("Expected both signed, got %+v", set)
	}

	// A third party co-signing does not count toward either flag.
	set = CoSigners(rec, []schema.Identity{ident(9)})
	if set.OwnerSigned || set.GuardianSigned {
		t.Errorf("Third-party signer should not count, got %+v", set)
	}
}

func TestDualGateRejectsMissingSigners(t *testing.T) {
	c := newTestController(&fakeClock{})

	ops := map[string]func(*schema.AccountRecord, SignerSet) error{
		"change_owner": func(r *schema.AccountRecord, s SignerSet) error {
			return c.ChangeOwner(r, s, ident(5), testSig)
		},
		"change_guardian": func(r *schema.AccountRecord, s SignerSet) error {
			return c.ChangeGuardian(r, s, ident(5))
		},
		"change_guardian_backup": func(r *schema.AccountRecord, s SignerSet) error {
			backup := ident(5)
			return c.ChangeGuardianBackup(r, s, &backup)
		},
		"execute": func(r *schema.AccountRecord, s SignerSet) error {
			return c.Execute(r, s, []byte("payload"))
		},
		"cancel_escape": func(r *schema.AccountRecord, s SignerSet) error {
			return c.CancelEscape(r, s)
		},
		"upgrade": func(r *schema.AccountRecord, s SignerSet) error {
			return c.Upgrade(r, s)
		},
	}

	partial := []SignerSet{
		{},
		{OwnerSigned: true},
		{GuardianSigned: true},
	}

	for name, op := range ops {
		for _, signers := range partial {
			rec := newTestRecord()
			before := rec.Clone()
			if err := op(rec, signers); !errors.Is(err, ErrNotEnoughApprovals) {
				t.Errorf("%s with signers %+v: expected ErrNotEnoughApprovals, got %v", name, signers, err)
			}
			if !reflect.DeepEqual(rec, before) {
				t.Errorf("%s with signers %+v mutated the record on rejection", name, signers)
			}
		}
	}
}

func TestChangeOwner(t *testing.T) {
	c := newTestController(&fakeClock{})
	rec := newTestRecord()

	if err := c.ChangeOwner(rec, bothSigned(), ident(7), testSig); err != nil {
		t.Fatalf("ChangeOwner failed: %v", err)
	}
	if rec.Owner != ident(7) {
		t.Errorf("Expected owner %v, got %v", ident(7), rec.Owner)
	}
	if rec.EscapeType != schema.EscapeNone || rec.EscapeInitiatedAt != 0 {
		t.Error("ChangeOwner must not touch escape state")
	}
}

func TestChangeOwnerZeroSignature(t *testing.T) {
	c := newTestController(&fakeClock{})
	rec := newTestRecord()
	before := rec.Clone()

	err := c.ChangeOwner(rec, bothSigned(), ident(7), [schema.SignatureSize]byte{})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Expected ErrInvalidSignature, got %v", err)
	}
	if !reflect.DeepEqual(rec, before) {
		t.Error("Rejected ChangeOwner mutated the record")
	}
}

func TestChangeGuardianKeepsBackupAndEscape(t *testing.T) {
	c := newTestController(&fakeClock{now: 1000})
	rec := newTestRecord()
	backup := ident(3)
	rec.GuardianBackup = &backup
	rec.EscapeType = schema.EscapeOwner
	rec.EscapeInitiatedAt = 500

	if err := c.ChangeGuardian(rec, bothSigned(), ident(8)); err != nil {
		t.Fatalf("ChangeGuardian failed: %v", err)
	}
	if rec.Guardian != ident(8) {
		t.Errorf("Expected guardian %v, got %v", ident(8), rec.Guardian)
	}
	if rec.GuardianBackup == nil || *rec.GuardianBackup != backup {
		t.Error("ChangeGuardian must not reset the backup")
	}
	if rec.EscapeType != schema.EscapeOwner || rec.EscapeInitiatedAt != 500 {
		t.Error("ChangeGuardian must not reset escape state")
	}
}

func TestChangeGuardianBackupSetAndClear(t *testing.T) {
	c := newTestController(&fakeClock{})
	rec := newTestRecord()

	backup := ident(3)
	if err := c.ChangeGuardianBackup(rec, bothSigned(), &backup); err != nil {
		t.Fatalf("Set backup failed: %v", err)
	}
	if rec.GuardianBackup == nil || *rec.GuardianBackup != backup {
		t.Errorf("Expected backup %v, got %v", backup, rec.GuardianBackup)
	}

	if err := c.ChangeGuardianBackup(rec, bothSigned(), nil); err != nil {
		t.Fatalf("Clear backup failed: %v", err)
	}
	if rec.GuardianBackup != nil {
		t.Error("Expected backup cleared")
	}
}

func TestExecuteStagesPendingTx(t *testing.T) {
	c := newTestController(&fakeClock{})
	rec := newTestRecord()

	if err := c.Execute(rec, bothSigned(), []byte("first")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.PendingTx == nil {
		t.Fatal("Expected a staged pending transaction")
	}
	if string(rec.PendingTx.Data) != "first" {
		t.Errorf("Expected payload %q, got %q", "first", rec.PendingTx.Data)
	}
	if !rec.PendingTx.OwnerApproved || !rec.PendingTx.GuardianApproved {
		t.Error("Staged transaction must carry both approvals")
	}

	// A second execute overwrites the previous staging.
	if err := c.Execute(rec, bothSigned(), []byte("second")); err != nil {
		t.Fatalf("Second Execute failed: %v", err)
	}
	if string(rec.PendingTx.Data) != "second" {
		t.Errorf("Expected payload %q, got %q", "second", rec.PendingTx.Data)
	}
}

func TestExecuteRejectsOversizePayload(t *testing.T) {
	c := newTestController(&fakeClock{})
	rec := newTestRecord()

	err := c.Execute(rec, bothSigned(), make([]byte, schema.MaxPendingTxSize+1))
	if !errors.Is(err, schema.ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}
	if rec.PendingTx != nil {
		t.Error("Rejected Execute staged a payload")
	}
}

func TestUpgradeDelegatesToFacility(t *testing.T) {
	upgrader := &recordingUpgrader{}
	c := NewController(&fakeClock{}, upgrader, zerolog.Nop())
	rec := newTestRecord()

	if err := c.Upgrade(rec, SignerSet{OwnerSigned: true}); !errors.Is(err, ErrNotEnoughApprovals) {
		t.Fatalf("Expected ErrNotEnoughApprovals, got %v", err)
	}
	if len(upgrader.calls) != 0 {
		t.Fatal("Facility must not be invoked before the gate passes")
	}

	if err := c.Upgrade(rec, bothSigned()); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if len(upgrader.calls) != 1 {
		t.Fatalf("Expected 1 facility call, got %d", len(upgrader.calls))
	}
	call := upgrader.calls[0]
	if call.Owner != rec.Owner || call.Guardian != rec.Guardian {
		t.Errorf("Facility got wrong account references: %+v", call)
	}
	if call.Opcode != OpcodeUpgrade {
		t.Errorf("Expected opcode %d, got %d", OpcodeUpgrade, call.Opcode)
	}
}
