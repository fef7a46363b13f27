package writer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"golang.org/x/sync/errgroup"
)

// verify reads the first total bytes of source and target in lockstep and
// compares them. Short reads on either side fail verification.
func (r *run) verify(ctx context.Context, total int64) error {
	chunkSize, _ := r.chunking()
	phase := fault.PhaseVerification

	src, err := os.Open(r.req.Source)
	if err != nil {
		return wrapAs(fault.KindRead, phase, "open source", r.req.Source, err)
	}
	defer src.Close()

	dst, err := os.Open(r.req.Target)
	if err != nil {
		return wrapAs(fault.KindRead, phase, "open target", r.req.Target, err)
	}
	defer dst.Close()

	srcHash, dstHash := sha256.New(), sha256.New()
	srcBuf, dstBuf := make([]byte, chunkSize), make([]byte, chunkSize)
	var srcBytes, dstBytes int64

	r.track.updateVerified(0, true)
	for r.result.BytesVerified < total {
		if err := ctx.Err(); err != nil {
			return err
		}

		want := int(min(int64(chunkSize), total-r.result.BytesVerified))
		var sn, dn int
		var g errgroup.Group
		g.Go(func() error {
			var err error
			sn, err = readChunk(src, srcBuf[:want])
			return wrapAs(fault.KindRead, phase, "read", r.req.Source, err)
		})
		g.Go(func() error {
			var err error
			dn, err = readChunk(dst, dstBuf[:want])
			return wrapAs(fault.KindRead, phase, "read", r.req.Target, err)
		})
		if err := g.Wait(); err != nil {
			return err
		}

		srcHash.Write(srcBuf[:sn])
		dstHash.Write(dstBuf[:dn])
		srcBytes += int64(sn)
		dstBytes += int64(dn)

		if r.req.VerifyMethod == VerifyCompare {
			if off := firstDifference(srcBuf[:sn], dstBuf[:dn]); off >= 0 {
				return fault.Wrap(phase, "compare", r.req.Target, &fault.MismatchError{
					Offset:      r.result.BytesVerified + int64(off),
					SourceBytes: srcBytes,
					TargetBytes: dstBytes,
				})
			}
		}
		if sn != want || dn != want {
			break
		}
		r.result.BytesVerified += int64(want)
		r.track.updateVerified(r.result.BytesVerified, false)
	}

	srcDigest := hex.EncodeToString(srcHash.Sum(nil))
	dstDigest := hex.EncodeToString(dstHash.Sum(nil))
	if srcBytes != total || dstBytes != srcBytes || srcDigest != dstDigest {
		r.logger.Error("verification failed",
			slog.String("source_sha256", srcDigest),
			slog.String("target_sha256", dstDigest),
			slog.Int64("source_bytes", srcBytes),
			slog.Int64("target_bytes", dstBytes),
		)
		return fault.Wrap(phase, "verify", r.req.Target, &fault.MismatchError{
			Offset:       -1,
			SourceDigest: srcDigest,
			TargetDigest: dstDigest,
			SourceBytes:  srcBytes,
			TargetBytes:  dstBytes,
		})
	}

	r.result.SourceDigest = srcDigest
	r.result.TargetDigest = dstDigest
	r.logger.Info("verification passed", slog.String("sha256", srcDigest))
	return nil
}

// readChunk fills buf, treating end of input as a short count rather than
// an error.
func readChunk(f io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(f, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}

// firstDifference returns the index of the first differing byte, the
// shorter length if one slice is a prefix of the other, or -1.
func firstDifference(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
