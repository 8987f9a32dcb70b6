// Package decoders selects a concrete decoder implementation by file
// extension.
package decoders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/drgolem/gapless/pkg/decoders/flac"
	"github.com/drgolem/gapless/pkg/decoders/mp3"
	"github.com/drgolem/gapless/pkg/decoders/wav"
	"github.com/drgolem/gapless/pkg/types"
)

// NewDecoder creates and opens the appropriate decoder based on file
// extension. Supports .mp3, .flac, .fla, and .wav.
func NewDecoder(fileName string) (types.Decoder, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	var decoder types.Decoder
	switch ext {
	case ".mp3":
		decoder = mp3.NewDecoder()
	case ".flac", ".fla":
		decoder = flac.NewDecoder()
	case ".wav":
		decoder = wav.NewDecoder()
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .mp3, .flac, .fla, .wav): %w", ext, types.ErrFormatUnsupported)
	}

	if err := decoder.Open(fileName); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fileName, err)
	}

	return decoder, nil
}
