package codec

import (
	"crypto/rand"
	"hash/crc32"
	"io"
)

// Traditional PKWARE encryption (APPNOTE 6.1).

const zipCryptoHeaderLen = 12

type zipCryptoKeys [3]uint32

func newZipCryptoKeys(passphrase string) *zipCryptoKeys {
	k := &zipCryptoKeys{0x12345678, 0x23456789, 0x34567890}
	for i := 0; i < len(passphrase); i++ {
		k.update(passphrase[i])
	}
	return k
}

func crc32Update(crc uint32, b byte) uint32 {
	return crc32.IEEETable[byte(crc)^b] ^ crc>>8
}

func (k *zipCryptoKeys) update(b byte) {
	k[0] = crc32Update(k[0], b)
	k[1] = (k[1]+k[0]&0xff)*134775813 + 1
	k[2] = crc32Update(k[2], byte(k[1]>>24))
}

func (k *zipCryptoKeys) stream() byte {
	t := uint16(k[2] | 2)
	return byte(t * (t ^ 1) >> 8)
}

func (k *zipCryptoKeys) encrypt(p []byte) {
	for i, b := range p {
		p[i] = b ^ k.stream()
		k.update(b)
	}
}

func (k *zipCryptoKeys) decrypt(p []byte) {
	for i, c := range p {
		b := c ^ k.stream()
		k.update(b)
		p[i] = b
	}
}

// zipCryptoWriter encrypts everything written to it. The encryption header
// is emitted on construction.
type zipCryptoWriter struct {
	w    io.Writer
	keys *zipCryptoKeys
	buf  []byte
}

func newZipCryptoWriter(w io.Writer, passphrase string, check byte) (*zipCryptoWriter, error) {
	zw := &zipCryptoWriter{
		w:    w,
		keys: newZipCryptoKeys(passphrase),
	}
	header := make([]byte, zipCryptoHeaderLen)
	if _, err := rand.Read(header[:zipCryptoHeaderLen-1]); err != nil {
		return nil, err
	}
	header[zipCryptoHeaderLen-1] = check
	zw.keys.encrypt(header)
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return zw, nil
}

func (z *zipCryptoWriter) Write(p []byte) (int, error) {
	if cap(z.buf) < len(p) {
		z.buf = make([]byte, len(p))
	}
	buf := z.buf[:len(p)]
	copy(buf, p)
	z.keys.encrypt(buf)
	return z.w.Write(buf)
}

// zipCryptoReader decrypts a member body positioned after its encryption
// header.
type zipCryptoReader struct {
	r    io.Reader
	keys *zipCryptoKeys
}

func (z *zipCryptoReader) Read(p []byte) (int, error) {
	n, err := z.r.Read(p)
	z.keys.decrypt(p[:n])
	return n, err
}

// unlockZipCrypto returns the keys of the first passphrase whose decrypted
// header ends with check, positioned after the header.
func unlockZipCrypto(header []byte, check byte, passphrases []string) (*zipCryptoKeys, bool) {
	buf := make([]byte, len(header))
	for _, p := range passphrases {
		keys := newZipCryptoKeys(p)
		copy(buf, header)
		keys.decrypt(buf)
		if buf[len(buf)-1] == check {
			return keys, true
		}
	}
	return nil, false
}
