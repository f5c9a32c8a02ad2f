package vmcode

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// GenerateKey pulls 16 bits from a cryptographically-seeded source.
// crypto/rand is used rather than a seeded PRNG since this key material
// protects the VIP encoding from casual pattern-matching.
func GenerateKey() (uint16, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("[[vmcode]] generating vip key: %w", err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// EncodeVIPEntry splits key into low byte k1 and high byte k2;
// enc = vip XOR (k1<<8) XOR k2; the result packs the key into the low
// 16 bits so the VM can recover it: (enc << 16) | key.
func EncodeVIPEntry(vip uint32, key uint16) uint32 {
	k1 := key & 0xFF
	k2 := key >> 8
	enc := vip ^ (uint32(k1) << 8) ^ uint32(k2)
	return (enc << 16) | uint32(key)
}

// DecodeVIPEntry inverts EncodeVIPEntry: the low 16 bits are the key,
// the high 16 bits are `enc`; XORing the same (k1<<8)^k2 back out
// recovers the original vip.
func DecodeVIPEntry(encoded uint32) (vip uint32, key uint16) {
	key = uint16(encoded & 0xFFFF)
	enc := encoded >> 16
	k1 := key & 0xFF
	k2 := key >> 8
	vip = enc ^ (uint32(k1) << 8) ^ uint32(k2)
	return vip, key
}
