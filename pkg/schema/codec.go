package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Persisted record layout: a fixed-size prefix followed by the
// variable-length pending-transaction payload.
//
//	magic "CREC"        4 bytes
//	version             1 byte
//	owner               32 bytes
//	guardian            32 bytes
//	has_backup          1 byte
//	guardian_backup     32 bytes (zero when absent)
//	escape_type         1 byte
//	escape_initiated_at 8 bytes, big endian
//	security_period     8 bytes, big endian
//	has_pending         1 byte
//	owner_approved      1 byte
//	guardian_approved   1 byte
//	pending_len         4 bytes, big endian
//	pending             pending_len bytes

var recordMagic = [4]byte{'C', 'R', 'E', 'C'}

const (
	recordVersion    = 1
	recordPrefixSize = 4 + 1 + IdentitySize*3 + 1 + 1 + 8 + 8 + 1 + 1 + 1 + 4
)

var (
	// ErrBadMagic is returned when serialized data does not start with the
	// record magic.
	ErrBadMagic = errors.New("record: bad magic")
	// ErrBadVersion is returned for an unsupported record layout version.
	ErrBadVersion = errors.New("record: unsupported version")
	// ErrTruncated is returned when serialized data is shorter than its
	// declared layout.
	ErrTruncated = errors.New("record: truncated data")
	// ErrPayloadTooLarge is returned when a pending payload exceeds
	// MaxPendingTxSize.
	ErrPayloadTooLarge = errors.New("record: pending payload too large")
	// ErrBadEscapeTag is returned for an escape tag outside the defined set.
	ErrBadEscapeTag = errors.New("record: invalid escape tag")
	// ErrInvariantViolated is returned when the escape tag and the
	// initiation timestamp disagree about whether an escape is in flight.
	ErrInvariantViolated = errors.New("record: escape invariant violated")
)

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// MarshalBinary serializes the record into the persisted layout.
func (r *AccountRecord) MarshalBinary() ([]byte, error) {
	if err := r.CheckInvariant(); err != nil {
		return nil, err
	}
	var pending []byte
	if r.PendingTx != nil {
		pending = r.PendingTx.Data
	}
	if len(pending) > MaxPendingTxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(pending))
	}

	buf := make([]byte, recordPrefixSize+len(pending))
	off := copy(buf, recordMagic[:])
	buf[off] = recordVersion
	off++
	off += copy(buf[off:], r.Owner[:])
	off += copy(buf[off:], r.Guardian[:])
	if r.GuardianBackup != nil {
		buf[off] = 1
		copy(buf[off+1:], r.GuardianBackup[:])
	}
	off += 1 + IdentitySize
	buf[off] = byte(r.EscapeType)
	off++
	binary.BigEndian.PutUint64(buf[off:], uint64(r.EscapeInitiatedAt))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(r.SecurityPeriod))
	off += 8
	if r.PendingTx != nil {
		buf[off] = 1
		buf[off+1] = boolByte(r.PendingTx.OwnerApproved)
		buf[off+2] = boolByte(r.PendingTx.GuardianApproved)
	}
	off += 3
	binary.BigEndian.PutUint32(buf[off:], uint32(len(pending)))
	off += 4
	copy(buf[off:], pending)
	return buf, nil
}

// UnmarshalBinary deserializes a record from the persisted layout,
// rejecting corrupt data.
func (r *AccountRecord) UnmarshalBinary(data []byte) error {
	if len(data) < recordPrefixSize {
		return fmt.Errorf("%w: %d bytes, prefix needs %d", ErrTruncated, len(data), recordPrefixSize)
	}
	if [4]byte(data[:4]) != recordMagic {
		return ErrBadMagic
	}
	if data[4] != recordVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, data[4])
	}

	var rec AccountRecord
	off := 5
	copy(rec.Owner[:], data[off:])
	off += IdentitySize
	copy(rec.Guardian[:], data[off:])
	off += IdentitySize
	if data[off] != 0 {
		var backup Identity
		copy(backup[:], data[off+1:])
		rec.GuardianBackup = &backup
	}
	off += 1 + IdentitySize
	rec.EscapeType = EscapeType(data[off])
	off++
	rec.EscapeInitiatedAt = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	rec.SecurityPeriod = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	hasPending := data[off] != 0
	ownerApproved := data[off+1] != 0
	guardianApproved := data[off+2] != 0
	off += 3
	pendingLen := binary.BigEndian.Uint32(data[off:])
	off += 4
	if pendingLen > MaxPendingTxSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, pendingLen)
	}
	if len(data) != off+int(pendingLen) {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrTruncated, off+int(pendingLen), len(data))
	}
	if hasPending {
		rec.PendingTx = &PendingTx{
			Data:             append([]byte(nil), data[off:off+int(pendingLen)]...),
			OwnerApproved:    ownerApproved,
			GuardianApproved: guardianApproved,
		}
	}
	if err := rec.CheckInvariant(); err != nil {
		return err
	}
	*r = rec
	return nil
}
