package protectql

// Sealed ciphertext envelope carried in Encrypted.Ciphertext (base64):
//
//	[flag:1][keyIDLen:1][keyID:n][nonce:24][secretbox(keyID + json(plaintext))]
//
// The key id appears twice: in the clear for key selection, and inside the box
// where secretbox authenticates it, so swapping the outer id is detectable.

const (
	flagNoCompression byte = 0x00
	flagZstd          byte = 0x01

	nonceSize = 24
)

// sealEnvelope assembles the outer envelope.
func sealEnvelope(flag byte, keyID string, nonce [24]byte, box []byte) []byte {
	idBytes := []byte(keyID)
	out := make([]byte, 0, 2+len(idBytes)+nonceSize+len(box))
	out = append(out, flag, byte(len(idBytes)))
	out = append(out, idBytes...)
	out = append(out, nonce[:]...)
	out = append(out, box...)
	return out
}

// parseEnvelope splits the outer envelope back into its parts.
func parseEnvelope(data []byte) (flag byte, keyID string, nonce [24]byte, box []byte, err error) {
	// flag + idLen + 1-byte id + nonce + at least one box byte
	if len(data) < 2+1+nonceSize+1 {
		err = ErrInvalidFormat
		return
	}
	flag = data[0]
	idLen := int(data[1])
	if idLen == 0 {
		err = ErrInvalidFormat
		return
	}
	header := 2 + idLen + nonceSize
	if len(data) < header+1 {
		err = ErrInvalidFormat
		return
	}
	keyID = string(data[2 : 2+idLen])
	copy(nonce[:], data[2+idLen:2+idLen+nonceSize])
	box = data[header:]
	return
}

// sealInner prepends the authenticated key id to the plaintext.
func sealInner(keyID string, plaintext []byte) []byte {
	idBytes := []byte(keyID)
	out := make([]byte, 0, 1+len(idBytes)+len(plaintext))
	out = append(out, byte(len(idBytes)))
	out = append(out, idBytes...)
	out = append(out, plaintext...)
	return out
}

// parseInner extracts the authenticated key id and the plaintext.
func parseInner(data []byte) (keyID string, plaintext []byte, err error) {
	if len(data) < 2 {
		err = ErrInvalidFormat
		return
	}
	idLen := int(data[0])
	if idLen == 0 || len(data) < 1+idLen {
		err = ErrInvalidFormat
		return
	}
	keyID = string(data[1 : 1+idLen])
	plaintext = data[1+idLen:]
	return
}
