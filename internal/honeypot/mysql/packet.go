package mysql

import (
	"crypto/rand"
	"encoding/binary"
)

const (
	protocolVersion = 10
	serverVersion   = "5.7.38-0ubuntu0.18.04.1"

	comQuery = 0x03

	capabilityLower  = 0xF7FF
	capabilityUpper  = 0x0081
	charsetUTF8      = 33
	statusAutocommit = 0x0002
)

// frame prepends the MySQL packet header: little-endian uint24 payload
// length plus a sequence id.
func frame(seq byte, payload []byte) []byte {
	out := make([]byte, 4, 4+len(payload))
	out[0] = byte(len(payload))
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload) >> 16)
	out[3] = seq
	return append(out, payload...)
}

// buildGreeting assembles a Handshake V10 packet (sequence 0) impersonating
// a stock Ubuntu MySQL 5.7 with mysql_native_password auth.
func buildGreeting(connID uint32) []byte {
	p := []byte{protocolVersion}
	p = append(p, serverVersion...)
	p = append(p, 0)

	p = binary.LittleEndian.AppendUint32(p, connID)

	salt1 := make([]byte, 8)
	_, _ = rand.Read(salt1)
	p = append(p, salt1...)
	p = append(p, 0) // filler

	p = binary.LittleEndian.AppendUint16(p, capabilityLower)
	p = append(p, charsetUTF8)
	p = binary.LittleEndian.AppendUint16(p, statusAutocommit)
	p = binary.LittleEndian.AppendUint16(p, capabilityUpper)
	p = append(p, 21) // auth plugin data length

	p = append(p, make([]byte, 10)...) // reserved

	salt2 := make([]byte, 12)
	_, _ = rand.Read(salt2)
	p = append(p, salt2...)
	p = append(p, 0)

	p = append(p, "mysql_native_password"...)
	p = append(p, 0)

	return frame(0, p)
}

// buildOK assembles the OK packet answering auth and non-SELECT commands:
// zero affected rows, zero insert id, autocommit status, no warnings.
func buildOK() []byte {
	p := []byte{0x00, 0, 0}
	p = binary.LittleEndian.AppendUint16(p, statusAutocommit)
	p = binary.LittleEndian.AppendUint16(p, 0)
	return frame(2, p)
}

// buildEmptyResult assembles the canned answer for SELECT queries: a one
// column result set named "result" with no rows. Sequence ids restart at 1.
func buildEmptyResult() []byte {
	var out []byte

	// Column count: 1.
	out = append(out, frame(1, []byte{0x01})...)

	// Column definition for a varchar column named "result".
	var def []byte
	def = append(def, 0x03)
	def = append(def, "def"...) // catalog
	def = append(def, 0)        // schema
	def = append(def, 0)        // table
	def = append(def, 0)        // org_table
	def = append(def, 0x06)
	def = append(def, "result"...) // name
	def = append(def, 0)           // org_name
	def = append(def, 0x0c)        // length of fixed fields
	def = binary.LittleEndian.AppendUint16(def, charsetUTF8)
	def = binary.LittleEndian.AppendUint32(def, 255) // column length
	def = append(def, 0xfd)                          // type: varchar
	def = binary.LittleEndian.AppendUint16(def, 0)   // flags
	def = append(def, 0)                             // decimals
	def = append(def, 0, 0)                          // filler
	out = append(out, frame(2, def)...)

	// EOF closing the field list, then EOF closing the (empty) row set.
	out = append(out, frame(3, []byte{0xfe, 0x00, 0x00, 0x02, 0x00})...)
	out = append(out, frame(4, []byte{0xfe, 0x00, 0x00, 0x02, 0x00})...)

	return out
}
