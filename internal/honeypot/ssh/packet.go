package ssh

import (
	"crypto/rand"
	"encoding/binary"
)

// SSH message numbers used by the dialog.
const (
	msgKexInit         = 20
	msgUserauthFailure = 51
)

// Advertised algorithm name-lists. The dialog never completes key exchange,
// so these only need to look plausible to a scanning client.
var (
	kexAlgorithms     = "curve25519-sha256,ecdh-sha2-nistp256"
	hostKeyAlgorithms = "ssh-ed25519,ssh-rsa"
	encryptionAlgos   = "aes256-ctr,aes128-ctr"
	macAlgorithms     = "hmac-sha2-256,hmac-sha1"
	compressionAlgos  = "none"
	languages         = ""
)

// buildKexInit assembles a full SSH_MSG_KEXINIT binary packet: 16-byte random
// cookie, ten length-prefixed name-lists, first_kex_packet_follows = 0, and
// four reserved zero bytes.
func buildKexInit() []byte {
	payload := []byte{msgKexInit}

	cookie := make([]byte, 16)
	_, _ = rand.Read(cookie)
	payload = append(payload, cookie...)

	for _, list := range []string{
		kexAlgorithms,
		hostKeyAlgorithms,
		encryptionAlgos, encryptionAlgos,
		macAlgorithms, macAlgorithms,
		compressionAlgos, compressionAlgos,
		languages, languages,
	} {
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(list)))
		payload = append(payload, list...)
	}

	payload = append(payload, 0)          // first_kex_packet_follows
	payload = append(payload, 0, 0, 0, 0) // reserved

	return wrapPacket(payload)
}

// buildUserauthFailure assembles SSH_MSG_USERAUTH_FAILURE advertising the
// "password,keyboard" name-list with partial success = 0.
func buildUserauthFailure() []byte {
	methods := "password,keyboard"
	payload := []byte{msgUserauthFailure}
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(methods)))
	payload = append(payload, methods...)
	payload = append(payload, 0)
	return wrapPacket(payload)
}

// wrapPacket frames a payload per SSH-2 binary packet rules: big-endian
// uint32 packet length, one padding-length byte, payload, random padding.
// The padding length is the smallest value >= 4 that aligns the framed
// packet (length field included) to 8 bytes.
func wrapPacket(payload []byte) []byte {
	packetLen := len(payload) + 1
	paddingLen := 8 - (packetLen+4)%8
	if paddingLen < 4 {
		paddingLen += 8
	}

	out := make([]byte, 0, 4+packetLen+paddingLen)
	out = binary.BigEndian.AppendUint32(out, uint32(packetLen+paddingLen))
	out = append(out, byte(paddingLen))
	out = append(out, payload...)

	padding := make([]byte, paddingLen)
	_, _ = rand.Read(padding)
	return append(out, padding...)
}
