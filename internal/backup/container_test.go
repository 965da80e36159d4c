package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

var testKDF = KDFParams{Time: 1, MemoryKB: 64, Threads: 1}

func testCodec() *Codec {
	return NewCodec(storage.NewStaticSecret("test-server-secret"), WithKDFParams(testKDF))
}

func samplePayload() *model.Payload {
	p := model.NewPayload("chef1", time.Date(2026, 3, 14, 9, 30, 0, 123, time.UTC))
	p.SetTable("ingredients", []model.Record{
		{"id": "ing-1", "user_id": "chef1", "name": "Flour", "unit": "kg", "unit_cost": 1.25, "allergens": nil},
		{"id": "ing-2", "user_id": "chef1", "name": "Butter", "unit": "kg", "unit_cost": 8.5, "allergens": "dairy"},
	})
	p.SetTable("menus", []model.Record{
		{"id": "m-1", "user_id": "chef1", "name": "Lunch", "active": int64(1), "raw": []byte{0x00, 0xff}, "flag": true},
	})
	p.SetTable("suppliers", nil)
	return p
}

func TestCodec_RoundTripBothModes(t *testing.T) {
	ctx := context.Background()
	c := testCodec()

	modes := []Mode{ServerSecret{}, UserPassword{Password: "correct horse"}}
	for _, mode := range modes {
		t.Run(mode.Kind().String(), func(t *testing.T) {
			p := samplePayload()
			data, err := c.Encode(ctx, p, mode)
			require.NoError(t, err)
			require.True(t, bytes.HasPrefix(data, []byte(magic)))
			require.Equal(t, byte(mode.Kind()), data[offMode])

			password := ""
			if pw, ok := mode.(UserPassword); ok {
				password = pw.Password
			}
			kind, got, err := c.Decode(ctx, data, password)
			require.NoError(t, err)
			require.Equal(t, mode.Kind(), kind)
			require.Equal(t, p, got)
		})
	}
}

func TestCodec_WrongPasswordIsAuthFailure(t *testing.T) {
	ctx := context.Background()
	c := testCodec()

	data, err := c.Encode(ctx, samplePayload(), UserPassword{Password: "p1"})
	require.NoError(t, err)

	_, _, err = c.Decode(ctx, data, "p2")
	require.ErrorIs(t, err, ErrAuthFailed)
	require.NotErrorIs(t, err, ErrInvalidFormat)
}

func TestCodec_PasswordRequired(t *testing.T) {
	ctx := context.Background()
	c := testCodec()

	_, err := c.Encode(ctx, samplePayload(), UserPassword{})
	require.ErrorIs(t, err, ErrPasswordRequired)

	data, err := c.Encode(ctx, samplePayload(), UserPassword{Password: "pw"})
	require.NoError(t, err)
	_, _, err = c.Decode(ctx, data, "")
	require.ErrorIs(t, err, ErrPasswordRequired)
}

func TestCodec_WrongServerSecret(t *testing.T) {
	ctx := context.Background()
	data, err := testCodec().Encode(ctx, samplePayload(), ServerSecret{})
	require.NoError(t, err)

	other := NewCodec(storage.NewStaticSecret("another-secret"))
	_, _, err = other.Decode(ctx, data, "")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestCodec_TamperDetected(t *testing.T) {
	ctx := context.Background()
	c := testCodec()
	data, err := c.Encode(ctx, samplePayload(), ServerSecret{})
	require.NoError(t, err)

	for name, idx := range map[string]int{
		"salt":       offSalt + 3,
		"nonce":      offNonce,
		"ciphertext": headerSize + 1,
		"tag":        len(data) - 1,
	} {
		t.Run(name, func(t *testing.T) {
			mutated := append([]byte(nil), data...)
			mutated[idx] ^= 0x01
			_, _, err := c.Decode(ctx, mutated, "")
			require.ErrorIs(t, err, ErrAuthFailed)
		})
	}
}

type countingSecrets struct {
	calls int
}

func (s *countingSecrets) ServerSecret(context.Context) ([]byte, error) {
	s.calls++
	return []byte("secret"), nil
}

func TestDecode_FormatErrorsBeforeCrypto(t *testing.T) {
	ctx := context.Background()
	secrets := &countingSecrets{}
	c := NewCodec(secrets)

	valid, err := c.Encode(ctx, samplePayload(), ServerSecret{})
	require.NoError(t, err)
	secrets.calls = 0

	badVersion := append([]byte(nil), valid...)
	badVersion[offVersion] = 2

	badMode := append([]byte(nil), valid...)
	badMode[offMode] = 7

	serverWithKDF := append([]byte(nil), valid...)
	serverWithKDF[offThreads] = 1

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"magic prefix", []byte("PREPFLOW"), ErrTruncated},
		{"header only", valid[:headerSize], ErrTruncated},
		{"not magic short", []byte("hello"), ErrNotBackup},
		{"not magic long", bytes.Repeat([]byte("x"), 200), ErrNotBackup},
		{"zip file", append([]byte("PK\x03\x04"), make([]byte, 100)...), ErrNotBackup},
		{"unknown version", badVersion, ErrUnsupportedVersion},
		{"unknown mode", badMode, ErrUnknownMode},
		{"server mode with kdf params", serverWithKDF, ErrInvalidKDFParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := c.Decode(ctx, tc.data, "pw")
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrInvalidFormat)
			require.False(t, errors.Is(err, ErrAuthFailed))
		})
	}
	require.Zero(t, secrets.calls)
}

func TestDecode_RejectsExpensiveKDFBeforeDerivation(t *testing.T) {
	ctx := context.Background()
	c := testCodec()
	good, err := c.Encode(ctx, samplePayload(), UserPassword{Password: "pw"})
	require.NoError(t, err)

	patch := func(f func(b []byte)) []byte {
		b := append([]byte(nil), good...)
		f(b)
		return b
	}
	cases := map[string][]byte{
		"1 GiB memory": patch(func(b []byte) { binary.BigEndian.PutUint32(b[offMemory:], 1024*1024) }),
		"time 10":      patch(func(b []byte) { binary.BigEndian.PutUint32(b[offTime:], 10) }),
		"32 threads":   patch(func(b []byte) { b[offThreads] = 32 }),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Inspect(data)
			require.ErrorIs(t, err, ErrInvalidKDFParams)

			start := time.Now()
			_, _, err = c.Decode(ctx, data, "pw")
			require.ErrorIs(t, err, ErrInvalidKDFParams)
			require.Less(t, time.Since(start), time.Second)
		})
	}

	ceiling := KDFParams{Time: MaxKDFTime, MemoryKB: MaxKDFMemoryKB, Threads: MaxKDFThreads}
	require.NoError(t, ceiling.Validate())
	require.NoError(t, DefaultKDFParams.Validate())
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	data, err := testCodec().Encode(ctx, samplePayload(), UserPassword{Password: "pw"})
	require.NoError(t, err)

	h, err := Inspect(data)
	require.NoError(t, err)
	require.Equal(t, byte(FormatVersion), h.Version)
	require.Equal(t, ModeKindUserPassword, h.Mode)
	require.Equal(t, testKDF, h.KDF)
	require.Len(t, h.Salt, saltSize)
	require.Len(t, h.Nonce, nonceSize)
}

func TestEncode_FreshSaltAndNonce(t *testing.T) {
	ctx := context.Background()
	c := testCodec()
	p := samplePayload()

	a, err := c.Encode(ctx, p, ServerSecret{})
	require.NoError(t, err)
	b, err := c.Encode(ctx, p, ServerSecret{})
	require.NoError(t, err)

	require.NotEqual(t, a[offSalt:offSalt+saltSize], b[offSalt:offSalt+saltSize])
	require.NotEqual(t, a[offNonce:headerSize], b[offNonce:headerSize])
}

func TestEncode_InvalidPayload(t *testing.T) {
	p := samplePayload()
	p.Metadata.RecordCounts["ingredients"] = 99

	_, err := testCodec().Encode(context.Background(), p, ServerSecret{})
	require.Error(t, err)
}
