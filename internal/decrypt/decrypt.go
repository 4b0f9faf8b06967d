// Package decrypt implements the provider's segmented Blowfish stream cipher.
//
// The stream is cut into 6144-byte segments. Only the first 2048 bytes of each
// segment are encrypted, with Blowfish in CBC mode and a fixed IV that is reset
// for every segment. The remaining 4096 bytes and any final remainder shorter
// than 2048 bytes are stored in the clear.
package decrypt

import (
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blowfish"
)

const (
	SegmentSize = 6144
	BlockSize   = 2048
	SecretSize  = 16
)

var iv = []byte{0, 1, 2, 3, 4, 5, 6, 7}

var ErrInvalidSecret = errors.New("provider secret must be 16 bytes")

// TrackKey derives the 16-byte Blowfish key for a track: the md5 hex digest of
// the decimal track id, first half XOR second half XOR secret.
func TrackKey(trackID string, secret []byte) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, ErrInvalidSecret
	}
	sum := md5.Sum([]byte(trackID))
	digest := hex.EncodeToString(sum[:])

	key := make([]byte, SecretSize)
	for i := range key {
		key[i] = digest[i] ^ digest[i+SecretSize] ^ secret[i]
	}
	return key, nil
}

// Decryptor decrypts the segments of one track.
type Decryptor struct {
	block cipher.Block
}

func NewDecryptor(trackID string, secret []byte) (*Decryptor, error) {
	key, err := TrackKey(trackID, secret)
	if err != nil {
		return nil, err
	}
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Decryptor{block: block}, nil
}

// DecryptSegment decrypts seg in place. seg must be at most SegmentSize long;
// anything shorter than BlockSize is left untouched.
func (d *Decryptor) DecryptSegment(seg []byte) {
	if len(seg) < BlockSize {
		return
	}
	// new CBC state per segment: the IV is never chained across segments
	cipher.NewCBCDecrypter(d.block, iv).CryptBlocks(seg[:BlockSize], seg[:BlockSize])
}

// Decrypt decrypts a whole buffer in place.
func (d *Decryptor) Decrypt(data []byte) {
	for off := 0; off < len(data); off += SegmentSize {
		end := min(off+SegmentSize, len(data))
		d.DecryptSegment(data[off:end])
	}
}

// DecryptFile decrypts the file at path in place, one segment at a time.
func DecryptFile(path, trackID string, secret []byte) error {
	dec, err := NewDecryptor(trackID, secret)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}

	buf := make([]byte, SegmentSize)
	var off int64
	for {
		n, readErr := f.ReadAt(buf, off)
		if n >= BlockSize {
			dec.DecryptSegment(buf[:n])
			if _, err := f.WriteAt(buf[:BlockSize], off); err != nil {
				f.Close()
				return fmt.Errorf("failed to write segment at %d: %w", off, err)
			}
		}
		off += int64(n)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return fmt.Errorf("failed to read segment at %d: %w", off, readErr)
		}
	}
	return f.Close()
}

// Writer decrypts a stream written to it and forwards the plaintext to dst.
// Close must be called to flush the final partial segment.
type Writer struct {
	dst io.Writer
	dec *Decryptor
	buf []byte
}

func NewWriter(dst io.Writer, dec *Decryptor) *Writer {
	return &Writer{dst: dst, dec: dec, buf: make([]byte, 0, SegmentSize)}
}

func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(SegmentSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n

		if len(w.buf) == SegmentSize {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *Writer) flush() error {
	w.dec.DecryptSegment(w.buf)
	_, err := w.dst.Write(w.buf)
	w.buf = w.buf[:0]
	return err
}

// Close flushes any buffered tail. It does not close dst.
func (w *Writer) Close() error {
	if len(w.buf) == 0 {
		return nil
	}
	return w.flush()
}
