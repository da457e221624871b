// Package hashing computes deterministic, workspace-scoped content hashes
// used for ingestion dedup. Pure functions: same inputs always produce the
// same output, and the same content hashes differently across workspaces.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies canonical-composition normalization, trims outer
// whitespace, and collapses any run of whitespace to a single space. Case is
// preserved. Exported so other packages (e.g. the embedding cache) can key
// on the same normalized text without re-hashing the whole document.
func NormalizeText(text string) string {
	return normalizeText(text)
}

func normalizeText(text string) string {
	composed := norm.NFC.String(text)
	composed = strings.TrimSpace(composed)

	var b strings.Builder
	b.Grow(len(composed))
	inSpace := false
	for _, r := range composed {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// TextHash returns the 64-lowercase-hex SHA-256 hash of the normalized text,
// scoped by workspaceID.
func TextHash(workspaceID, text string) string {
	normalized := normalizeText(text)
	sum := sha256.Sum256([]byte(workspaceID + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

// FileHash returns the 64-lowercase-hex SHA-256 hash of the exact file bytes,
// scoped by workspaceID. No normalization is applied; files are exact.
func FileHash(workspaceID string, raw []byte) string {
	h := sha256.New()
	h.Write([]byte(workspaceID + ":"))
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}
