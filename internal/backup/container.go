package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"prepflow-go/internal/model"
)

// Container layout, version 1 (big-endian):
//
//	0   16  magic "PREPFLOW_BACKUP\x00"
//	16  1   format version
//	17  1   mode (0x00 server secret, 0x01 user password)
//	18  32  KDF salt
//	50  4   argon2 time
//	54  4   argon2 memory KiB
//	58  1   argon2 threads
//	59  12  GCM nonce
//	71  n   ciphertext of gzip(canonical payload)
//	end 16  GCM tag
//
// The whole header is bound to the ciphertext as additional data.
const (
	magic         = "PREPFLOW_BACKUP\x00"
	FormatVersion = 1

	offVersion = 16
	offMode    = 17
	offSalt    = 18
	offTime    = offSalt + saltSize
	offMemory  = offTime + 4
	offThreads = offMemory + 4
	offNonce   = offThreads + 1
	headerSize = offNonce + nonceSize

	// MinContainerSize is the smallest well-formed container: header plus tag.
	MinContainerSize = headerSize + tagSize

	maxPlaintextBytes = 1 << 30
)

// SecretStore supplies the platform-held secret for server-secret mode.
type SecretStore interface {
	ServerSecret(ctx context.Context) ([]byte, error)
}

// Header is the parsed, unauthenticated container header.
type Header struct {
	Version byte
	Mode    ModeKind
	Salt    []byte
	KDF     KDFParams
	Nonce   []byte
}

type Codec struct {
	secrets SecretStore
	kdf     KDFParams
	rand    io.Reader
}

type CodecOption func(*Codec)

// WithKDFParams sets the Argon2id costs used for new password-mode containers.
func WithKDFParams(p KDFParams) CodecOption {
	return func(c *Codec) { c.kdf = p }
}

// WithRandom replaces crypto/rand as the salt and nonce source.
func WithRandom(r io.Reader) CodecOption {
	return func(c *Codec) { c.rand = r }
}

func NewCodec(secrets SecretStore, opts ...CodecOption) *Codec {
	c := &Codec{secrets: secrets, kdf: DefaultKDFParams, rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode serializes, compresses and encrypts p under mode.
func (c *Codec) Encode(ctx context.Context, p *model.Payload, mode Mode) ([]byte, error) {
	plain, err := marshalPayload(p)
	if err != nil {
		return nil, err
	}
	compressed, err := gzipBytes(plain)
	if err != nil {
		return nil, err
	}

	h := Header{
		Version: FormatVersion,
		Salt:    make([]byte, saltSize),
		Nonce:   make([]byte, nonceSize),
	}
	if _, err := io.ReadFull(c.rand, h.Salt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(c.rand, h.Nonce); err != nil {
		return nil, err
	}

	var key []byte
	switch m := mode.(type) {
	case ServerSecret:
		h.Mode = ModeKindServerSecret
		key, err = c.serverKey(ctx, h.Salt)
		if err != nil {
			return nil, err
		}
	case UserPassword:
		if m.Password == "" {
			return nil, ErrPasswordRequired
		}
		if err := c.kdf.Validate(); err != nil {
			return nil, err
		}
		h.Mode = ModeKindUserPassword
		h.KDF = c.kdf
		key = derivePasswordKey(m.Password, h.Salt, h.KDF)
	default:
		return nil, ErrUnknownMode
	}

	hdr := h.marshal()
	ct, err := seal(key, h.Nonce, compressed, hdr)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(hdr)+len(ct))
	out = append(out, hdr...)
	out = append(out, ct...)
	return out, nil
}

// Decode validates the container format, derives the key for the container's
// mode and decrypts the payload. password is only consulted for password mode.
func (c *Codec) Decode(ctx context.Context, data []byte, password string) (ModeKind, *model.Payload, error) {
	h, err := Inspect(data)
	if err != nil {
		return 0, nil, err
	}

	var key []byte
	switch h.Mode {
	case ModeKindServerSecret:
		key, err = c.serverKey(ctx, h.Salt)
		if err != nil {
			return h.Mode, nil, err
		}
	case ModeKindUserPassword:
		if password == "" {
			return h.Mode, nil, ErrPasswordRequired
		}
		key = derivePasswordKey(password, h.Salt, h.KDF)
	default:
		return h.Mode, nil, ErrUnknownMode
	}

	compressed, err := open(key, h.Nonce, data[headerSize:], data[:headerSize])
	if err != nil {
		return h.Mode, nil, err
	}
	plain, err := gunzipBytes(compressed)
	if err != nil {
		return h.Mode, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p, err := unmarshalPayload(plain)
	if err != nil {
		return h.Mode, nil, err
	}
	return h.Mode, p, nil
}

func (c *Codec) serverKey(ctx context.Context, salt []byte) ([]byte, error) {
	if c.secrets == nil {
		return nil, errors.New("backup: no server secret store configured")
	}
	secret, err := c.secrets.ServerSecret(ctx)
	if err != nil {
		return nil, err
	}
	return deriveServerKey(secret, salt)
}

// Inspect parses and validates the header without any cryptographic work.
func Inspect(data []byte) (Header, error) {
	if len(data) >= len(magic) && !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return Header{}, ErrNotBackup
	}
	if len(data) < MinContainerSize {
		if len(data) < len(magic) && !bytes.HasPrefix([]byte(magic), data) {
			return Header{}, ErrNotBackup
		}
		return Header{}, ErrTruncated
	}
	if data[offVersion] != FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[offVersion])
	}

	h := Header{
		Version: data[offVersion],
		Mode:    ModeKind(data[offMode]),
		Salt:    append([]byte(nil), data[offSalt:offSalt+saltSize]...),
		KDF: KDFParams{
			Time:     binary.BigEndian.Uint32(data[offTime : offTime+4]),
			MemoryKB: binary.BigEndian.Uint32(data[offMemory : offMemory+4]),
			Threads:  data[offThreads],
		},
		Nonce: append([]byte(nil), data[offNonce:offNonce+nonceSize]...),
	}

	switch h.Mode {
	case ModeKindServerSecret:
		if h.KDF != (KDFParams{}) {
			return Header{}, ErrInvalidKDFParams
		}
	case ModeKindUserPassword:
		if err := h.KDF.Validate(); err != nil {
			return Header{}, err
		}
	default:
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMode, byte(h.Mode))
	}
	return h, nil
}

func (h Header) marshal() []byte {
	b := make([]byte, headerSize)
	copy(b, magic)
	b[offVersion] = h.Version
	b[offMode] = byte(h.Mode)
	copy(b[offSalt:offSalt+saltSize], h.Salt)
	binary.BigEndian.PutUint32(b[offTime:offTime+4], h.KDF.Time)
	binary.BigEndian.PutUint32(b[offMemory:offMemory+4], h.KDF.MemoryKB)
	b[offThreads] = h.KDF.Threads
	copy(b[offNonce:offNonce+nonceSize], h.Nonce)
	return b
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(b); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(io.LimitReader(zr, maxPlaintextBytes+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxPlaintextBytes {
		return nil, errors.New("backup: payload too large")
	}
	return out, nil
}
