package handler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"vidstream/backend/internal/platform/apperr"
)

type stagedUploads struct {
	dir    string
	avatar string
	cover  string
}

func (u *stagedUploads) cleanup() {
	if u.dir != "" {
		_ = os.RemoveAll(u.dir)
	}
}

// stageUploads writes the request images into a fresh directory under root.
// An empty image yields an empty path so the service reports it as missing.
func stageUploads(root string, req *RegisterRequest) (*stagedUploads, error) {
	u := &stagedUploads{}
	if len(req.Avatar) == 0 && len(req.CoverImage) == 0 {
		return u, nil
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "prepare upload directory", oops.Wrap(err))
	}
	dir, err := os.MkdirTemp(root, "register-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "prepare upload directory", oops.Wrap(err))
	}
	u.dir = dir
	if u.avatar, err = writeUpload(dir, "avatar", req.AvatarFilename, req.Avatar); err != nil {
		u.cleanup()
		return nil, err
	}
	if u.cover, err = writeUpload(dir, "cover", req.CoverImageFilename, req.CoverImage); err != nil {
		u.cleanup()
		return nil, err
	}
	return u, nil
}

func writeUpload(dir, name, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	p := filepath.Join(dir, name+uploadExt(filename))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "stage upload", oops.With("file", name).Wrap(err))
	}
	return p, nil
}

// uploadExt keeps a short alphanumeric extension from the client filename and drops anything else.
func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
