package documents

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"document-backend/internal/shared/util"
)

// KeyRoot prefixes every document object key. Document keys carry a random
// suffix, so their URLs may be handed out without an identity.
const KeyRoot = "uploaded_documents"

const anonymousSegment = "anonymous"

// documentKey derives uploaded_documents/{identity}/{base}-{unix}-{suffix}{ext}.
func documentKey(ownerID, fileName string, now time.Time, suffix string) string {
	identity := util.KeySegment(ownerID)
	if identity == "" {
		identity = anonymousSegment
	}
	base, ext := util.SplitFileName(fileName)
	return fmt.Sprintf("%s/%s/%s-%d-%s%s", KeyRoot, identity, base, now.Unix(), suffix, ext)
}

func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", uint32(time.Now().UnixNano()))
	}
	return hex.EncodeToString(b[:])
}

// ValidID reports whether id is a document id in canonical UUID form. Anything
// else cannot name a stored document.
func ValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
