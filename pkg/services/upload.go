package services

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/models"
)

// gzipExpansionLimit bounds a decompressed upload relative to the per-file ceiling.
const gzipExpansionLimit = 8

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	errTooLarge = errors.New("payload exceeds size limit")
)

// ReadBounded reads r fully, failing if it yields more than limit bytes.
func ReadBounded(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

// PrepareUpload decompresses a gzipped payload, checks that it looks like
// FASTA and computes its md5. raw has already passed the size ceiling.
func PrepareUpload(fileName string, raw []byte, limit int64) (models.UploadFile, error) {
	content := raw
	if bytes.HasPrefix(raw, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return models.UploadFile{}, apperrors.BadRequest("%s is not a valid gzip file", fileName)
		}
		content, err = ReadBounded(zr, limit*gzipExpansionLimit)
		_ = zr.Close()
		if errors.Is(err, errTooLarge) {
			return models.UploadFile{}, apperrors.BadRequest("%s is too large once decompressed", fileName)
		}
		if err != nil {
			return models.UploadFile{}, apperrors.BadRequest("%s is not a valid gzip file", fileName)
		}
	}

	if !looksLikeFASTA(content) {
		return models.UploadFile{}, apperrors.BadRequest("%s is not a FASTA file", fileName)
	}

	sum := md5.Sum(content)
	return models.UploadFile{
		FileName: fileName,
		Content:  content,
		MD5:      hex.EncodeToString(sum[:]),
	}, nil
}

// looksLikeFASTA reports whether the first non-blank byte is a record header.
func looksLikeFASTA(content []byte) bool {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '>'
}
