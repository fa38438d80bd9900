// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MinCompressionSavingsRatio is the compression gate's threshold: the
// compressed form is kept only if it is shorter than this fraction of the
// input, i.e. it must save at least 10% of the input length.
const MinCompressionSavingsRatio = 0.9

// alreadyCompressedExt holds file extensions the codec skips attempting to
// compress, because their bytes are already dense (images, video, archives).
var alreadyCompressedExt = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	".mp4": {}, ".mov": {}, ".mkv": {}, ".avi": {},
	".mp3": {}, ".flac": {}, ".ogg": {},
	".zip": {}, ".gz": {}, ".bz2": {}, ".xz": {}, ".7z": {}, ".rar": {}, ".zst": {},
	".pdf": {},
}

// ShouldAttempt reports whether the codec should even try compressing a
// chunk from a file with the given name, based on its extension.
func ShouldAttempt(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	_, skip := alreadyCompressedExt[ext]
	return !skip
}

// Compress attempts to gzip data and returns the compressed bytes only if
// they save at least 10% (i.e. are shorter than 90% of len(data)); otherwise
// it returns the original bytes unchanged. The second return reports which
// form was kept.
func Compress(data []byte) (out []byte, compressed bool, err error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, false, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}

	if float64(buf.Len()) < float64(len(data))*MinCompressionSavingsRatio {
		return buf.Bytes(), true, nil
	}
	return data, false, nil
}

// Decompress gunzips data. Callers only call this when the chunk/frame
// header says Compressed is true.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
