// Package romcheck verifies ROM files: presence first, then a checksum
// computed over the whole file and compared with the expected digest.
package romcheck

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/mameuix/mameuix/internal/job"
)

// Algo is a supported digest algorithm.
type Algo string

const (
	CRC32  Algo = "crc32"
	MD5    Algo = "md5"
	SHA1   Algo = "sha1"
	SHA256 Algo = "sha256"
)

var ErrChecksum = errors.New("malformed checksum")

// Checksum is a parsed expected digest.
type Checksum struct {
	Algo Algo
	Sum  []byte
}

func (c Checksum) String() string {
	return string(c.Algo) + ":" + hex.EncodeToString(c.Sum)
}

func (c Checksum) hash() hash.Hash {
	switch c.Algo {
	case CRC32:
		return crc32.NewIEEE()
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	default:
		return sha256.New()
	}
}

var hexLen = map[int]Algo{
	8:  CRC32,
	32: MD5,
	40: SHA1,
	64: SHA256,
}

// ParseChecksum accepts "algo:hex" or bare hex whose length selects the
// algorithm.
func ParseChecksum(s string) (Checksum, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	algo, digest, prefixed := strings.Cut(s, ":")
	if !prefixed {
		digest = algo
		a, ok := hexLen[len(digest)]
		if !ok {
			return Checksum{}, fmt.Errorf("%w: %q has unknown length %d", ErrChecksum, s, len(digest))
		}
		algo = string(a)
	}
	a := Algo(algo)
	switch a {
	case CRC32, MD5, SHA1, SHA256:
	default:
		return Checksum{}, fmt.Errorf("%w: unsupported algorithm %q", ErrChecksum, algo)
	}
	sum, err := hex.DecodeString(digest)
	if err != nil {
		return Checksum{}, fmt.Errorf("%w: %v", ErrChecksum, err)
	}
	if want := hexLenOf(a); len(digest) != want {
		return Checksum{}, fmt.Errorf("%w: %s digest needs %d hex digits, got %d", ErrChecksum, a, want, len(digest))
	}
	return Checksum{Algo: a, Sum: sum}, nil
}

func hexLenOf(a Algo) int {
	for n, algo := range hexLen {
		if algo == a {
			return n
		}
	}
	return 0
}

// Sum computes the digest of r.
func Sum(algo Algo, r io.Reader) (Checksum, error) {
	c := Checksum{Algo: algo}
	h := c.hash()
	if _, err := io.Copy(h, r); err != nil {
		return Checksum{}, err
	}
	c.Sum = h.Sum(nil)
	return c, nil
}

// Verify is the job.KindVerifyRom executor. It is not interrupted by ctx:
// a started verification always reads the whole file.
func Verify(_ context.Context, j job.Job) job.Outcome {
	p, ok := j.Payload.(job.VerifyPayload)
	if !ok {
		return job.Fail(job.StatusError, "unexpected payload %T", j.Payload)
	}
	return VerifyFile(p.Path, p.Checksum)
}

// VerifyFile classifies a single file against an expected checksum.
func VerifyFile(path, expected string) job.Outcome {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return job.Plain(job.StatusMissing)
	}
	if err != nil {
		return job.Fail(job.StatusError, "open: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return job.Fail(job.StatusError, "stat: %v", err)
	}
	if !info.Mode().IsRegular() {
		return job.Fail(job.StatusError, "%s is not a regular file", path)
	}

	if strings.TrimSpace(expected) == "" {
		// still read the file, an unreadable dump is an error and not a warning
		if _, err := io.Copy(io.Discard, f); err != nil {
			return job.Fail(job.StatusError, "read: %v", err)
		}
		return job.Fail(job.StatusWarning, "no good dump known")
	}
	want, err := ParseChecksum(expected)
	if err != nil {
		return job.Fail(job.StatusWarning, "%v", err)
	}
	got, err := Sum(want.Algo, f)
	if err != nil {
		return job.Fail(job.StatusError, "read: %v", err)
	}
	if !bytes.Equal(got.Sum, want.Sum) {
		return job.Fail(job.StatusBadChecksum, "expected %s, got %s", want, got)
	}
	return job.Plain(job.StatusVerified)
}
