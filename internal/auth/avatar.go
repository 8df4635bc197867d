package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/redmonkez12/accounts-api/internal/httputil"
)

// DefaultMaxAvatarBytes caps uploaded avatar size.
const DefaultMaxAvatarBytes = 5 << 20

const avatarKeyPrefix = "avatars/"

// sniffing needs at most this many bytes
const sniffLen = 512

var avatarExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// AvatarUpload is an image file received with a registration.
type AvatarUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// sniffAvatar detects the image type from the leading bytes and returns a
// reader that still yields the full content.
func sniffAvatar(r io.Reader) (contentType, ext string, body io.Reader, err error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", "", nil, fmt.Errorf("failed to read avatar: %w", err)
	}
	head = head[:n]

	contentType = http.DetectContentType(head)
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return "", "", nil, NewValidationError("avatar", httputil.CodeInvalidImage,
			"Upload a valid image. The file you uploaded was either not an image or a corrupted image.")
	}

	return contentType, ext, io.MultiReader(bytes.NewReader(head), r), nil
}

// avatarKey builds avatars/<user-id>/<random>.<ext>.
func avatarKey(userID uuid.UUID, ext string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate avatar name: %w", err)
	}
	return fmt.Sprintf("%s%s/%s.%s", avatarKeyPrefix, userID, hex.EncodeToString(b), ext), nil
}

// validAvatarReference accepts only keys this service could have written.
func validAvatarReference(key string) bool {
	return strings.HasPrefix(key, avatarKeyPrefix) &&
		!strings.Contains(key, "..") &&
		len(key) > len(avatarKeyPrefix) &&
		len(key) <= 255
}
